// Package spoolcmder
package spoolcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/spoolhq/spool/cmd/spool/config"
	searchcmder "github.com/spoolhq/spool/cmd/spool/search"
	servecmder "github.com/spoolhq/spool/cmd/spool/serve"
	tailcmder "github.com/spoolhq/spool/cmd/spool/tail"
	usecmder "github.com/spoolhq/spool/cmd/spool/use"
	versioncmder "github.com/spoolhq/spool/cmd/version"
)

const spoolLongDesc string = `Spool is durable conversation memory for your agents.

Every turn is appended to a per-conversation transcript, indexed for
keyword search as it lands, and summarized and embedded in the background
for semantic retrieval.

Common commands:
  spool serve                Run the spool server
  spool search "<query>"     Hybrid search over stored conversations
  spool tail [id]            Follow a conversation transcript live
  spool use <id>             Mark a conversation as current
  spool config list          Show configuration`

const spoolShortDesc string = "Spool - Conversation Memory"

func NewSpoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: spoolShortDesc,
		Long:  spoolLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .spool/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(tailcmder.NewTailCmd())
	cmd.AddCommand(usecmder.NewUseCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
