// Package versioncmder
package versioncmder

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/stacks/pkg/cliui"
	"github.com/papercomputeco/stacks/pkg/utils"
)

type VersionCommander struct {
	short bool
}

func NewVersionCmd() *cobra.Command {
	cmder := &VersionCommander{}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "displays version",
		Long:  "displays the version, commit and build time of this CLI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&cmder.short, "short", "s", false, "Print only the version")

	return cmd
}

func (c *VersionCommander) run(w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}

	if c.short {
		fmt.Fprintln(w, utils.Version)
		return nil
	}

	fmt.Fprintf(w, "%s %s\n", cliui.KeyStyle.Render("Version: "), cliui.ValueStyle.Render(utils.Version))
	fmt.Fprintf(w, "%s %s\n", cliui.KeyStyle.Render("Sha:     "), cliui.ValueStyle.Render(utils.Sha))
	fmt.Fprintf(w, "%s %s\n", cliui.KeyStyle.Render("Built at:"), cliui.DimStyle.Render(utils.Buildtime))
	return nil
}
