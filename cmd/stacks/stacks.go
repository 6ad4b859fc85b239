// Package stackscmder
package stackscmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/stacks/cmd/stacks/auth"
	configcmder "github.com/papercomputeco/stacks/cmd/stacks/config"
	contextcmder "github.com/papercomputeco/stacks/cmd/stacks/contextcmd"
	ingestcmder "github.com/papercomputeco/stacks/cmd/stacks/ingest"
	initcmder "github.com/papercomputeco/stacks/cmd/stacks/init"
	retirecmder "github.com/papercomputeco/stacks/cmd/stacks/retire"
	servecmder "github.com/papercomputeco/stacks/cmd/stacks/serve"
	statuscmder "github.com/papercomputeco/stacks/cmd/stacks/status"
	versioncmder "github.com/papercomputeco/stacks/cmd/version"
)

const stacksLongDesc string = `Stacks turns long documents into a searchable vector index and
assembles grounded context from it.

Run the server, then feed it documents:
  stacks serve                 Run the API server and ingest workers
  stacks ingest <file>         Submit a text file for ingestion
  stacks status [job-id]       Show ingestion progress
  stacks context <query>       Assemble retrieval context for a query`

const stacksShortDesc string = "Stacks - document ingestion and retrieval context"

func NewStacksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stacks",
		Short:        stacksShortDesc,
		Long:         stacksLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .stacks/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(ingestcmder.NewIngestCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(statuscmder.NewCancelCmd())
	cmd.AddCommand(contextcmder.NewContextCmd())
	cmd.AddCommand(retirecmder.NewRetireCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
