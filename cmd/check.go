package cmd

import (
	"fmt"

	"github.com/agentic-research/bids2nda/internal/linter"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [destination]",
		Short: "Check generated descriptor pairs for consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := loadTables(root)
			if err != nil {
				return err
			}
			diags, err := linter.Lint(osfs.New(args[0]), tables)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range diags {
				fmt.Fprintln(out, d)
			}
			if len(diags) > 0 {
				return fmt.Errorf("%d problem(s) in %s", len(diags), args[0])
			}
			fmt.Fprintf(out, "%s: ok\n", args[0])
			return nil
		},
	}
}
