// Package api exposes the admin HTTP surface of the engram daemon: health,
// queue stats, memory search and inspection, and commitment management.
package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/daemon"
)

// Config holds API server settings.
type Config struct {
	// ListenAddr is the host:port the server binds.
	ListenAddr string
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the admin API server.
type Server struct {
	config Config
	daemon *daemon.Daemon
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates the API server over a running daemon.
func NewServer(config Config, d *daemon.Daemon, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		daemon: d,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/stats", s.handleStats)
	app.Post("/v1/observe", s.handleObserve)
	app.Get("/v1/memories/search", s.handleSearch)
	app.Get("/v1/memories", s.handleListMemories)
	app.Get("/v1/memories/:id", s.handleGetMemory)
	app.Delete("/v1/memories/:id", s.handleDeleteMemory)
	app.Get("/v1/context/:user_id", s.handleContextBlock)
	app.Get("/v1/commitments", s.handleListCommitments)
	app.Post("/v1/commitments/:id/complete", s.handleCompleteCommitment)
	app.Post("/v1/commitments/:id/cancel", s.handleCancelCommitment)
	app.Post("/v1/consolidate", s.handleConsolidate)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
