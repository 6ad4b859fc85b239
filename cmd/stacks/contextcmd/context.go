// Package contextcmder provides the context command, which assembles a
// retrieval context for a query from a running stacks API server.
package contextcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/stacks/api"
	apiclient "github.com/papercomputeco/stacks/api/client"
	"github.com/papercomputeco/stacks/pkg/cliui"
	"github.com/papercomputeco/stacks/pkg/config"
	"github.com/papercomputeco/stacks/pkg/retrieval"
	"github.com/papercomputeco/stacks/pkg/utils"
)

const contextLongDesc string = `Assemble retrieval context for a query.

Embeds the query on the server, retrieves the closest passages and prints
the assembled context along with the documents it cites. Bounds that are
not given fall back to the server's retrieval defaults.

Use --json for machine readable output, or --markdown to render the context
as formatted markdown.

Examples:
  stacks context "when do barn owls hunt"
  stacks context "nesting habits" --max-passages 3 --document field-guide
  stacks context "migration routes" --json | jq .cited_documents`

const contextShortDesc string = "Assemble retrieval context for a query"

type contextCommander struct {
	query           string
	maxPassages     int
	maxContextChars int
	documentIDs     []string
	markdown        bool
	jsonOut         bool

	apiTarget string
}

func NewContextCmd() *cobra.Command {
	cmder := &contextCommander{}

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: contextShortDesc,
		Long:  contextLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]

			if cmder.markdown && cmder.jsonOut {
				return fmt.Errorf("--markdown and --json are mutually exclusive")
			}

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
	cmd.Flags().IntVarP(&cmder.maxPassages, "max-passages", "k", 0, "Maximum passages to retrieve (server default when unset)")
	cmd.Flags().IntVar(&cmder.maxContextChars, "max-context-chars", 0, "Character budget for the context (server default when unset)")
	cmd.Flags().StringArrayVar(&cmder.documentIDs, "document", nil, "Only retrieve from this document (repeatable)")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render the context as markdown")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the raw JSON response")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Stacks API server URL")

	return cmd
}

func (c *contextCommander) run(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := apiclient.New(c.apiTarget)
	if err != nil {
		return err
	}

	out, err := client.AssembleContext(ctx, api.ContextRequest{
		Query:           c.query,
		MaxPassages:     c.maxPassages,
		MaxContextChars: c.maxContextChars,
		DocumentIDs:     c.documentIDs,
	})
	if err != nil {
		return err
	}

	switch {
	case c.jsonOut:
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding context: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil

	case c.markdown:
		rendered, err := cliui.RenderMarkdown(Markdown(c.query, out))
		if err != nil {
			return err
		}
		fmt.Fprint(w, rendered)
		return nil
	}

	c.print(w, out)
	return nil
}

func (c *contextCommander) print(w io.Writer, out retrieval.Context) {
	fmt.Fprintf(w, "\n%s %s\n", cliui.HeaderStyle.Render("Context for:"), cliui.ValueStyle.Render(fmt.Sprintf("%q", c.query)))
	if out.Simulated {
		fmt.Fprintf(w, "  %s\n", cliui.WarnStyle.Render("server has no embedding provider, no passages were retrieved"))
	}
	fmt.Fprintln(w)

	for i, p := range out.Passages {
		loc := fmt.Sprintf("chunk %d", p.Index)
		if p.Page > 0 {
			loc += fmt.Sprintf(", page %d", p.Page)
		}
		fmt.Fprintf(w, "  %s  %s  %s  %s\n",
			cliui.KeyStyle.Render(fmt.Sprintf("#%d", i+1)),
			cliui.ValueStyle.Render(p.DocumentID),
			cliui.DimStyle.Render(loc),
			cliui.DimStyle.Render(fmt.Sprintf("score: %.4f", p.Score)),
		)
		fmt.Fprintf(w, "      %s\n", utils.Truncate(strings.Join(strings.Fields(p.Text), " "), 96))
	}
	if len(out.Passages) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, out.Text)

	if len(out.CitedDocuments) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", cliui.KeyStyle.Render("Sources:"), strings.Join(out.CitedDocuments, ", "))
	}
	fmt.Fprintln(w)
}

// Markdown formats an assembled context as a markdown document.
func Markdown(query string, out retrieval.Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", query)
	for _, line := range strings.Split(out.Text, "\n") {
		fmt.Fprintf(&b, "> %s\n", line)
	}

	if len(out.Passages) > 0 {
		b.WriteString("\n## Passages\n\n")
		for i, p := range out.Passages {
			title := p.DocumentID
			if p.Title != "" {
				title = fmt.Sprintf("%s (%s)", p.Title, p.DocumentID)
			}
			fmt.Fprintf(&b, "%d. **%s**, chunk %d", i+1, title, p.Index)
			if p.Page > 0 {
				fmt.Fprintf(&b, ", page %d", p.Page)
			}
			fmt.Fprintf(&b, " (score %.4f)\n", p.Score)
		}
	}

	if len(out.CitedDocuments) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, id := range out.CitedDocuments {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
	}

	return b.String()
}
