// Package ingestcmder provides the ingest command, which submits extracted
// document text to a running stacks API server.
package ingestcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/papercomputeco/stacks/api/client"
	statuscmder "github.com/papercomputeco/stacks/cmd/stacks/status"
	"github.com/papercomputeco/stacks/pkg/cliui"
	"github.com/papercomputeco/stacks/pkg/config"
	"github.com/papercomputeco/stacks/pkg/document"
	"github.com/papercomputeco/stacks/pkg/dotdir"
	"github.com/papercomputeco/stacks/pkg/jobs"
)

const ingestLongDesc string = `Submit a document for ingestion.

Reads extracted plain text from a file (or stdin with "-") and submits it to
a running stacks API server, which chunks, embeds and stores it in the
background. The returned job id is recorded in the .stacks/ directory so
that stacks status and stacks cancel can find it.

Use --split-pages for text with form feed page breaks (as written by
pdftotext) so that passages keep their page numbers.

Examples:
  stacks ingest field-guide.txt
  stacks ingest field-guide.txt --id guide-2nd-ed --title "Field Guide"
  pdftotext guide.pdf - | stacks ingest - --id guide --split-pages --wait`

const ingestShortDesc string = "Submit a document for ingestion"

type ingestCommander struct {
	path         string
	documentID   string
	title        string
	splitPages   bool
	wait         bool
	pollInterval time.Duration

	apiTarget string
	configDir string
}

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cmder.path = args[0]
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			if cmd.Flags().Changed("api-target") {
				return nil
			}

			cfger, err := config.NewConfiger(cmder.configDir)
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
			return cmder.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.documentID, "id", "", "Document id (defaults to the file name without extension)")
	cmd.Flags().StringVar(&cmder.title, "title", "", "Human readable title used in citations")
	cmd.Flags().BoolVar(&cmder.splitPages, "split-pages", false, "Split the text into pages on form feed characters")
	cmd.Flags().BoolVarP(&cmder.wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().DurationVar(&cmder.pollInterval, "poll-interval", time.Second, "How often to poll while waiting")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Stacks API server URL")

	return cmd
}

func (c *ingestCommander) run(ctx context.Context, stdin io.Reader, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	doc, err := c.readDocument(stdin)
	if err != nil {
		return err
	}

	client, err := apiclient.New(c.apiTarget)
	if err != nil {
		return err
	}

	jobID, err := client.SubmitDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", doc.ID, err)
	}

	fmt.Fprintf(w, "  %s Submitted %s as job %s\n",
		cliui.SuccessMark,
		cliui.ValueStyle.Render(doc.ID),
		cliui.ValueStyle.Render(jobID),
	)

	if err := dotdir.NewManager().SaveLastJob(&dotdir.LastJob{
		JobID:       jobID,
		DocumentID:  doc.ID,
		APITarget:   c.apiTarget,
		SubmittedAt: time.Now().UTC(),
	}, c.configDir); err != nil {
		fmt.Fprintf(w, "  %s could not record job: %v\n", cliui.WarnStyle.Render("!"), err)
	}

	if !c.wait {
		return nil
	}

	snap, err := client.WaitForJob(ctx, jobID, c.pollInterval, func(s jobs.Snapshot) {
		fmt.Fprintf(w, "\r  %s  %s", cliui.ProgressBar(s.CompletedUnits, s.TotalUnits, 30), cliui.DimStyle.Render(s.Status))
	})
	fmt.Fprintln(w)
	if err != nil {
		return err
	}

	statuscmder.PrintSnapshot(w, snap)
	if snap.State == jobs.StateFailed {
		return fmt.Errorf("job %s failed: %s", jobID, snap.Error)
	}
	return nil
}

func (c *ingestCommander) readDocument(stdin io.Reader) (document.Document, error) {
	var (
		data []byte
		err  error
	)
	if c.path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(c.path)
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("reading %s: %w", c.path, err)
	}

	id := c.documentID
	if id == "" {
		if c.path == "-" {
			return document.Document{}, errors.New("--id is required when reading from stdin")
		}
		base := filepath.Base(c.path)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}

	doc := document.Document{ID: id, Title: c.title}
	if c.splitPages {
		doc.Pages = SplitPages(string(data))
	} else {
		doc.Text = string(data)
	}
	return doc, nil
}

// SplitPages splits text on form feeds into 1-numbered pages. A trailing
// form feed does not start an extra page.
func SplitPages(text string) []document.Page {
	parts := strings.Split(strings.TrimSuffix(text, "\f"), "\f")
	pages := make([]document.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, document.Page{Number: i + 1, Text: part})
	}
	return pages
}
