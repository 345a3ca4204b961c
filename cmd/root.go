package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentic-research/bids2nda/internal/bids"
	"github.com/agentic-research/bids2nda/internal/config"
	"github.com/agentic-research/bids2nda/internal/generator"
	"github.com/agentic-research/bids2nda/internal/index"
	xlog "github.com/agentic-research/bids2nda/internal/log"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	source        string
	destination   string
	databasePath  string
	resetDatabase bool
	derivatives   bool
	validate      bool
	skipUnknown   bool
	perVariant    bool
	tablesPath    string
	logLevel      string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "bids2nda",
		Short:         "Generate image03 JSON and YAML descriptors for a BIDS dataset",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			xlog.Configure(xlog.Config{Level: opts.logLevel, Output: cmd.ErrOrStderr()})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.source, "source", "s", "", "Path to the BIDS dataset directory")
	f.StringVarP(&opts.destination, "destination", "d", "", "Path to save the generated YAML and JSON files")
	f.StringVar(&opts.databasePath, "database-path", "", "Reuse or create a SQLite layout index at this path")
	f.BoolVar(&opts.resetDatabase, "reset-database", false, "Rebuild the layout index even if it exists")
	f.BoolVar(&opts.derivatives, "derivatives", true, "Index derivatives/<pipeline>/ datasets")
	f.BoolVar(&opts.validate, "validate", true, "Require dataset_description.json in the dataset and each pipeline")
	f.BoolVar(&opts.skipUnknown, "skip-unknown-datatypes", false, "Skip datatypes without an image modality instead of failing")
	f.BoolVar(&opts.perVariant, "manifest-per-variant", false, "List only the files that produced a variant in its JSON manifest")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.tablesPath, "tables", "", "HCL file overriding the scan type and modality tables")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $LOG_LEVEL or info")

	cmd.AddCommand(newIndexCmd(), newCheckCmd(opts))
	return cmd
}

func loadTables(opts *rootOptions) (config.Tables, error) {
	if opts.tablesPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(opts.tablesPath)
}

func sourceRoot(source string) (string, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve source: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source %s is not a directory", abs)
	}
	return abs, nil
}

func runGenerate(cmd *cobra.Command, opts *rootOptions) error {
	logger := xlog.WithComponent("cli")

	tables, err := loadTables(opts)
	if err != nil {
		return err
	}
	root, err := sourceRoot(opts.source)
	if err != nil {
		return err
	}

	layout, err := index.Open(cmd.Context(), osfs.New(root), root, opts.databasePath, opts.resetDatabase, bids.Options{
		Derivatives: opts.derivatives,
		Validate:    opts.validate,
		Logger:      xlog.WithComponent("layout"),
	})
	if err != nil {
		return err
	}

	gen, err := generator.New(generator.Config{
		Tables:               tables,
		Layout:               layout,
		Output:               osfs.New(opts.destination),
		SkipUnknownDatatypes: opts.skipUnknown,
		ManifestPerVariant:   opts.perVariant,
		Logger:               xlog.Base(),
	})
	if err != nil {
		return err
	}
	summary, err := gen.Run(cmd.Context())
	if err != nil {
		return err
	}
	logger.Debug().Str(xlog.FieldPath, root).Int("pairs", len(summary.Names)).Msg("done")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nJSON files: %s\n", filepath.Join(opts.destination, summary.JSONDir))
	fmt.Fprintf(out, "YAML files: %s\n\n", filepath.Join(opts.destination, summary.YAMLDir))
	return nil
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		logger := xlog.Base()
		logger.Error().Err(err).Msg("bids2nda failed")
		stop()
		os.Exit(1)
	}
}
