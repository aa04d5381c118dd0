// Package searchcmder provides the search command for querying stored memories.
package searchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/memory"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	contentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type searchCommander struct {
	query  string
	userID string
	topK   int
	mode   string
	quiet  bool

	apiTarget string
}

const searchLongDesc string = `Search a user's stored memories via the engram API.

Returns the most relevant memories for the query, scored by keyword match,
semantic similarity (when an embedder is configured), importance, and recency.

Use --quiet to output only memory IDs, one per line, for piping into other
commands.

Examples:
  engram search "coffee preferences" --user alice
  engram search "travel plans" --user alice --top 10 --mode keyword
  engram search "project deadlines" --user alice --quiet`

const searchShortDesc string = "Search stored memories"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cmder.query = args[0]
			if cmder.userID == "" {
				return fmt.Errorf("--user is required")
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User whose memories to search")
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().StringVar(&cmder.mode, "mode", "", "Search mode: keyword, semantic, or hybrid")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only memory IDs, one per line (for piping)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", "http://localhost:8090", "Engram API server URL")

	return cmd
}

func (c *searchCommander) run() error {
	entries, err := searchAPI(c.apiTarget, c.query, c.userID, c.topK, c.mode)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, entry := range entries {
			fmt.Println(entry.ID)
		}
		return nil
	}

	fmt.Printf("\n%s %s\n\n",
		headerStyle.Render("Memories matching:"),
		idStyle.Render(fmt.Sprintf("%q", c.query)),
	)

	for i, entry := range entries {
		printEntry(i+1, entry)
	}

	return nil
}

func printEntry(rank int, entry *memory.Entry) {
	fmt.Printf("  %s  %s  %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", entry.Score)),
		idStyle.Render(entry.ID),
	)

	content := strings.ReplaceAll(entry.Content, "\n", " ")
	fmt.Printf("  %s\n", contentStyle.Render(content))
	fmt.Printf("  %s %s\n\n",
		typeStyle.Render("["+string(entry.Type)+"]"),
		dimStyle.Render(fmt.Sprintf("importance %d, %s", entry.Importance, entry.CreatedAt.Format("2006-01-02"))),
	)
}

func searchAPI(apiTarget, query, userID string, topK int, mode string) ([]*memory.Entry, error) {
	searchURL, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	searchURL.Path = "/v1/memories/search"
	q := searchURL.Query()
	q.Set("query", query)
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(topK))
	if mode != "" {
		q.Set("mode", mode)
	}
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
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
		return nil, fmt.Errorf("search request failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var entries []*memory.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	return entries, nil
}
