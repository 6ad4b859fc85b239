// Package statuscmder provides the status and cancel commands for ingestion
// jobs running on a stacks API server.
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
	"github.com/papercomputeco/stacks/pkg/dotdir"
	"github.com/papercomputeco/stacks/pkg/jobs"
)

const statusLongDesc string = `Show the progress of an ingestion job.

With no job id, shows the last job submitted from this machine with
stacks ingest (recorded in the .stacks/ directory).

Use --watch to follow the job's progress stream until it finishes.

Examples:
  stacks status
  stacks status 3f0c9a52-6a54-4c1e-9d1b-2c8f0c1b7e11
  stacks status --watch --api-target http://localhost:8080`

const statusShortDesc string = "Show ingestion job progress"

type statusCommander struct {
	jobID     string
	apiTarget string
	watch     bool
	configDir string
}

func NewStatusCmd() *cobra.Command {
	cmder := &statusCommander{}

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: statusShortDesc,
		Long:  statusLongDesc,
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
	cmd.Flags().BoolVarP(&cmder.watch, "watch", "w", false, "Follow progress until the job finishes")

	return cmd
}

func (c *statusCommander) run(ctx context.Context, w io.Writer, targetChanged bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	jobID, target, err := resolveJob(c.configDir, c.jobID, c.apiTarget, targetChanged)
	if err != nil {
		return err
	}
	if jobID == "" {
		fmt.Fprintf(w, "  %s No ingestion job recorded. Submit one with stacks ingest.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	client, err := apiclient.New(target)
	if err != nil {
		return err
	}

	var snap jobs.Snapshot
	if c.watch {
		snap, err = client.WatchJob(ctx, jobID, func(s jobs.Snapshot) {
			fmt.Fprintf(w, "\r  %s  %s", cliui.ProgressBar(s.CompletedUnits, s.TotalUnits, 30), cliui.DimStyle.Render(s.Status))
		})
		fmt.Fprintln(w)
	} else {
		snap, err = client.GetJob(ctx, jobID)
	}
	if errors.Is(err, apiclient.ErrNotFound) {
		return fmt.Errorf("job %s not found (it may have expired)", jobID)
	}
	if err != nil {
		return err
	}

	PrintSnapshot(w, snap)
	return nil
}

// PrintSnapshot renders a job snapshot for the terminal.
func PrintSnapshot(w io.Writer, snap jobs.Snapshot) {
	fmt.Fprintf(w, "\n  %s  %s\n", cliui.KeyStyle.Render("Job:       "), cliui.ValueStyle.Render(snap.ID))
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Document:  "), cliui.ValueStyle.Render(snap.DocumentID))
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("State:     "), stateLabel(snap.State))
	if snap.Status != "" {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Status:    "), cliui.DimStyle.Render(snap.Status))
	}
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Progress:  "), cliui.ProgressBar(snap.CompletedUnits, snap.TotalUnits, 30))

	if snap.Mode == jobs.ModeSimulated {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Mode:      "), cliui.WarnStyle.Render("simulated (no embedding provider)"))
	}

	if snap.State.Terminal() {
		fmt.Fprintf(w, "  %s  %d embedded, %d skipped, %d upserted\n",
			cliui.KeyStyle.Render("Summary:   "),
			snap.Summary.Embedded, snap.Summary.Skipped, snap.Summary.Upserted,
		)
	}

	if snap.StartedAt != nil && snap.FinishedAt != nil {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Took:      "),
			cliui.DimStyle.Render(cliui.FormatDuration(snap.FinishedAt.Sub(*snap.StartedAt))))
	}

	if snap.Error != "" {
		fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Error:     "), cliui.WarnStyle.Render(snap.Error))
	}

	fmt.Fprintln(w)
}

func stateLabel(s jobs.State) string {
	switch s {
	case jobs.StateSucceeded:
		return cliui.SuccessMark + " " + string(s)
	case jobs.StateFailed:
		return cliui.FailMark + " " + string(s)
	default:
		return cliui.ValueStyle.Render(string(s))
	}
}

// resolveTarget fills apiTarget from client.api_target unless --api-target
// was given.
func resolveTarget(cmd *cobra.Command, configDir string, apiTarget *string) error {
	if cmd.Flags().Changed("api-target") {
		return nil
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	*apiTarget = cfg.Client.APITarget
	return nil
}

// resolveJob falls back to the last recorded job when jobID is empty. The
// recorded server wins over the configured one unless a target was given.
func resolveJob(configDir, jobID, apiTarget string, targetChanged bool) (string, string, error) {
	if jobID != "" {
		return jobID, apiTarget, nil
	}

	last, err := dotdir.NewManager().LoadLastJob(configDir)
	if err != nil {
		return "", "", fmt.Errorf("loading last job: %w", err)
	}
	if last == nil {
		return "", apiTarget, nil
	}

	if !targetChanged && last.APITarget != "" {
		apiTarget = last.APITarget
	}
	return last.JobID, apiTarget, nil
}
