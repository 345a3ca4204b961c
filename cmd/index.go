package cmd

import (
	"fmt"
	"time"

	"github.com/agentic-research/bids2nda/internal/bids"
	"github.com/agentic-research/bids2nda/internal/index"
	xlog "github.com/agentic-research/bids2nda/internal/log"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var (
		source      string
		derivatives bool
		validate    bool
	)
	cmd := &cobra.Command{
		Use:   "index [output.db]",
		Short: "Build a SQLite layout index from a BIDS dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := args[0]
			abs, err := sourceRoot(source)
			if err != nil {
				return err
			}

			start := time.Now()
			layout, err := bids.Scan(osfs.New(abs), abs, bids.Options{
				Derivatives: derivatives,
				Validate:    validate,
				Logger:      xlog.WithComponent("layout"),
			})
			if err != nil {
				return err
			}
			if err := index.Save(cmd.Context(), output, layout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files from %s into %s in %v.\n",
				layout.Len(), abs, output, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Path to the BIDS dataset directory")
	cmd.Flags().BoolVar(&derivatives, "derivatives", true, "Index derivatives/<pipeline>/ datasets")
	cmd.Flags().BoolVar(&validate, "validate", true, "Require dataset_description.json in the dataset and each pipeline")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
