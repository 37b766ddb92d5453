package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/pkg/cliui"
	"github.com/spoolhq/spool/pkg/config"
)

const setLongDesc string = `Set a configuration value.

Sets the given key to the provided value in the config.toml file
stored in the .spool/ directory. Keys use dotted notation matching
the TOML section structure.

Valid keys:
  storage.data_dir, api.listen,
  index.provider, index.postgres_dsn,
  vector_store.provider, vector_store.target, vector_store.api_key,
  vector_store.use_tls,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  summarizer.provider, summarizer.target, summarizer.model,
  pipeline.sweep_interval, lifecycle.idle_timeout,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  context.max_turns

Examples:
  spool config set index.provider postgres
  spool config set index.postgres_dsn postgres://localhost:5432/spool
  spool config set embedding.dimensions 768
  spool config set eventstream.brokers broker1:9092,broker2:9092`

const setShortDesc string = "Set a configuration value"

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: setShortDesc,
		Long:  setLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runSet(args[0], args[1], configDir)
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	return cmd
}

func runSet(key, value, configDir string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := cfger.GetTarget()
	if target != "" {
		fmt.Printf("\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}

	err = cfger.SetConfigValue(key, value)
	if err != nil {
		return err
	}

	fmt.Printf("  %s Set %s = %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(key),
		cliui.ValueStyle.Render(value),
	)
	return nil
}
