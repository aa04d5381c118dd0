// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for the daemon. Environment variables (ENGRAM_*) and CLI flags
take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, memory.provider, memory.conn_str,
  queue.batch_size, queue.flush_interval_seconds, queue.max_queue_size,
  gate.threshold,
  llm.provider, llm.target, llm.extraction_model,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  vector_store.provider, vector_store.target,
  consolidation.*, context.max_tokens,
  api.listen, mcp.listen,
  event_stream.provider, event_stream.topic

Use subcommands to get, set, or list configuration values:
  engram config set <key> <value>    Set a configuration value
  engram config get <key>            Get a configuration value
  engram config list                 List all configuration values

Examples:
  engram config set gate.threshold 0.5
  engram config set embedding.model nomic-embed-text
  engram config get llm.extraction_model
  engram config list`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
