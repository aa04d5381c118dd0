// Package mcp provides an MCP (Model Context Protocol) server over the
// engram memory store, so agent frontends can search and store memories as
// tools.
package mcp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Config holds MCP server dependencies.
type Config struct {
	// Provider is the memory backend the tools operate on.
	Provider memory.Provider

	// Noop builds an empty MCP server with no tools configured.
	Noop bool

	// Logger is the configured slog logger.
	Logger *slog.Logger
}

// Server wraps the MCP server and its HTTP handler.
type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "engram",
			Version: "0.1.0",
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Provider == nil {
		return nil, errors.New("memory provider is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        memorySearchToolName,
		Description: memorySearchDescription,
	}, s.handleMemorySearch)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        memoryRememberToolName,
		Description: memoryRememberDescription,
	}, s.handleMemoryRemember)

	if _, ok := c.Provider.(memory.ContextProvider); ok {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        contextResumeToolName,
			Description: contextResumeDescription,
		}, s.handleContextResume)
	}

	s.mcpServer = mcpServer

	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
