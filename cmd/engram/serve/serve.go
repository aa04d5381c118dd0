// Package servecmder provides the serve command for running the memory daemon.
package servecmder

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/daemon"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/logger"
)

type ServeCommander struct {
	apiListen string
	mcpListen string
	noMCP     bool
	jsonLogs  bool
	configDir string
	debug     bool
}

const serveLongDesc string = `Run the engram memory daemon.

Starts the background extraction pipeline, the admin API server, and the MCP
server exposing memory tools to agent frontends. Conversation turns are
submitted via POST /v1/observe and processed asynchronously; the queue is
persisted to SQLite so nothing is lost across restarts.

Configuration is read from config.toml in the resolved .engram/ directory,
ENGRAM_* environment variables, and CLI flags, in increasing precedence.

Examples:
  engram serve
  engram serve --api-listen :9000 --no-mcp
  ENGRAM_GATE_THRESHOLD=0.5 engram serve`

const serveShortDesc string = "Run the engram memory daemon"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.apiListen, "api-listen", "a", "", "Address for the API server to listen on (default from config)")
	cmd.Flags().StringVarP(&cmder.mcpListen, "mcp-listen", "m", "", "Address for the MCP server to listen on (default from config)")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP server")
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Emit structured JSON logs")

	return cmd
}

func (c *ServeCommander) run(cmd *cobra.Command) error {
	log := logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(!c.jsonLogs),
		logger.WithJSON(c.jsonLogs),
	)

	dataDir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := config.FromViper(v)

	if cmd.Flags().Changed("api-listen") {
		cfg.API.Listen = c.apiListen
	}
	if cmd.Flags().Changed("mcp-listen") {
		cfg.MCP.Listen = c.mcpListen
	}

	d, err := daemon.New(*cfg, dataDir, log)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	defer d.Stop()

	apiServer := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, d, log)

	errChan := make(chan error, 2)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()
	defer apiServer.Shutdown()

	var mcpHTTP *http.Server
	if !c.noMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Provider: d.Provider(),
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}

		mcpHTTP = &http.Server{
			Addr:    cfg.MCP.Listen,
			Handler: mcpServer.Handler(),
		}

		log.Info("starting MCP server", "listen", cfg.MCP.Listen)
		go func() {
			if err := mcpHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("MCP server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())
	}

	if mcpHTTP != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
			log.Warn("MCP server shutdown", "error", err)
		}
	}

	return nil
}
