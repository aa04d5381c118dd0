// Package statuscmder provides the status command for inspecting a running daemon.
package statuscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/daemon"
)

var (
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const statusLongDesc string = `Show the state of a running engram daemon.

Queries the daemon's API server for queue counters and memory provider health.

Examples:
  engram status
  engram status --api-target http://localhost:8090`

const statusShortDesc string = "Show daemon queue and provider health"

func NewStatusCmd() *cobra.Command {
	var apiTarget string

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus(apiTarget)
		},
	}

	cmd.Flags().StringVar(&apiTarget, "api-target", "http://localhost:8090", "Engram API server URL")

	return cmd
}

func runStatus(apiTarget string) error {
	stats, err := fetchStats(apiTarget)
	if err != nil {
		return err
	}

	health := okStyle.Render("healthy")
	if stats.Degraded {
		health = badStyle.Render("degraded")
	}

	fmt.Printf("\n  %s  %s  %s\n\n",
		keyStyle.Render("Provider:"),
		valueStyle.Render(stats.Provider),
		health,
	)

	fmt.Printf("  %s %d pending\n", keyStyle.Render("Queue:  "), stats.Queue.Depth)
	fmt.Printf("  %s %d enqueued, %d processed, %d skipped\n",
		dimStyle.Render("        "),
		stats.Queue.Enqueued, stats.Queue.Processed, stats.Queue.Skipped,
	)

	if stats.Queue.Dropped > 0 || stats.Queue.Errors > 0 {
		fmt.Printf("  %s %d dropped, %d errors\n",
			dimStyle.Render("        "),
			stats.Queue.Dropped, stats.Queue.Errors,
		)
	}

	fmt.Println()
	return nil
}

func fetchStats(apiTarget string) (*daemon.Stats, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiTarget+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("creating stats request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engram API at %s: %w", apiTarget, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var stats daemon.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats response: %w", err)
	}

	return &stats, nil
}
