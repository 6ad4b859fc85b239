// Package retirecmder provides the retire command, which removes a document's
// passages from the vector store.
package retirecmder

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apiclient "github.com/papercomputeco/stacks/api/client"
	"github.com/papercomputeco/stacks/pkg/cliui"
	"github.com/papercomputeco/stacks/pkg/config"
)

const retireLongDesc string = `Retire a document.

Deletes every stored passage of the document from the vector store, so it
no longer contributes to assembled context. Retiring a document that was
never ingested is not an error.

Examples:
  stacks retire field-guide
  stacks retire field-guide --api-target http://localhost:8080`

const retireShortDesc string = "Remove a document from the vector store"

type retireCommander struct {
	documentID string
	apiTarget  string
}

func NewRetireCmd() *cobra.Command {
	cmder := &retireCommander{}

	cmd := &cobra.Command{
		Use:   "retire <document-id>",
		Short: retireShortDesc,
		Long:  retireLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cmder.documentID = args[0]

			if cmd.Flags().Changed("api-target") {
				return nil
			}

			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cmder.apiTarget = cfg.Client.APITarget
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Stacks API server URL")

	return cmd
}

func (c *retireCommander) run(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := apiclient.New(c.apiTarget)
	if err != nil {
		return err
	}

	if err := client.RetireDocument(ctx, c.documentID); err != nil {
		return fmt.Errorf("retiring %s: %w", c.documentID, err)
	}

	fmt.Fprintf(w, "  %s Retired %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(c.documentID))
	return nil
}
