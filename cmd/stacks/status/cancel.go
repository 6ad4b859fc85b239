package statuscmder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	apiclient "github.com/papercomputeco/stacks/api/client"
	"github.com/papercomputeco/stacks/pkg/cliui"
	"github.com/papercomputeco/stacks/pkg/config"
)

const cancelLongDesc string = `Request cancellation of a running ingestion job.

With no job id, cancels the last job submitted from this machine. The job
stops between batches; passages already written stay in the vector store.

Examples:
  stacks cancel
  stacks cancel 3f0c9a52-6a54-4c1e-9d1b-2c8f0c1b7e11`

const cancelShortDesc string = "Cancel an ingestion job"

type cancelCommander struct {
	jobID     string
	apiTarget string
	configDir string
}

func NewCancelCmd() *cobra.Command {
	cmder := &cancelCommander{}

	cmd := &cobra.Command{
		Use:   "cancel [job-id]",
		Short: cancelShortDesc,
		Long:  cancelLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			if len(args) == 1 {
				cmder.jobID = args[0]
			}
			return resolveTarget(cmd, cmder.configDir, &cmder.apiTarget)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), cmd.Flags().Changed("api-target"))
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Stacks API server URL")

	return cmd
}

func (c *cancelCommander) run(ctx context.Context, w io.Writer, targetChanged bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	jobID, target, err := resolveJob(c.configDir, c.jobID, c.apiTarget, targetChanged)
	if err != nil {
		return err
	}
	if jobID == "" {
		return errors.New("no job id given and no ingestion job recorded")
	}

	client, err := apiclient.New(target)
	if err != nil {
		return err
	}

	cancelled, err := client.CancelJob(ctx, jobID)
	if errors.Is(err, apiclient.ErrNotFound) {
		return fmt.Errorf("job %s not found (it may have expired)", jobID)
	}
	if err != nil {
		return err
	}

	if cancelled {
		fmt.Fprintf(w, "  %s Cancellation requested for job %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(jobID))
	} else {
		fmt.Fprintf(w, "  %s Job %s has already finished\n", cliui.DimStyle.Render("●"), cliui.ValueStyle.Render(jobID))
	}
	return nil
}
