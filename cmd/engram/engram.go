// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	searchcmder "github.com/papercomputeco/engram/cmd/engram/search"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	statuscmder "github.com/papercomputeco/engram/cmd/engram/status"
)

const engramLongDesc string = `Engram is background long-term memory for conversational agents.

It watches finished conversation turns, extracts durable facts with a local
LLM, and serves them back as a token-budgeted context block.

Run the daemon using:
  engram serve         Run the memory daemon with its API and MCP servers

Inspect a running daemon using:
  engram status        Show queue and provider health
  engram search        Search stored memories`

const engramShortDesc string = "Engram - Background memory for agents"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .engram directory (default: ./.engram or ~/.engram)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())

	return cmd
}
