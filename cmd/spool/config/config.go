// Package configcmder provides the config command for managing persistent
// spool configuration stored in the .spool/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent spool configuration.

Configuration is stored as config.toml in the .spool/ directory and provides
default values for command flags. CLI flags and SPOOL_* environment variables
always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.data_dir, api.listen,
  index.provider, index.postgres_dsn,
  vector_store.provider, vector_store.target, vector_store.api_key,
  vector_store.use_tls,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  summarizer.provider, summarizer.target, summarizer.model,
  pipeline.sweep_interval, lifecycle.idle_timeout,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  context.max_turns

Use subcommands to get, set, or list configuration values:
  spool config set <key> <value>    Set a configuration value
  spool config get <key>            Get a configuration value
  spool config list                 List all configuration values

Examples:
  spool config set index.provider postgres
  spool config set embedding.model nomic-embed-text
  spool config get lifecycle.idle_timeout
  spool config list`

const configShortDesc string = "Manage persistent spool configuration"

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
