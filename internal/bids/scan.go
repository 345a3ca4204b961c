package bids

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
)

// DescriptionFile must exist at the root of a dataset and of each derivative pipeline.
const DescriptionFile = "dataset_description.json"

// ErrNotDataset is returned by Scan when validation is on and the root has
// no dataset_description.json.
var ErrNotDataset = errors.New("not a BIDS dataset")

// Top-level directories that are never indexed as raw inputs.
var ignoredDirs = map[string]bool{
	"code":    true,
	"stimuli": true,
	"models":  true,
}

// Options controls Scan.
type Options struct {
	// Derivatives indexes derivatives/<pipeline>/ trees.
	Derivatives bool
	// Validate requires dataset_description.json at the dataset root and
	// skips derivative pipelines without one.
	Validate bool
	Logger   zerolog.Logger
}

// Scan walks fs from "/" and indexes every regular file. root is the label
// joined onto relative paths to form File.Path; it is normally the source
// directory the filesystem is rooted at.
func Scan(fs billy.Filesystem, root string, opts Options) (*Layout, error) {
	if opts.Validate {
		if _, err := fs.Stat("/" + DescriptionFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%s: %s is missing from project root: %w", root, DescriptionFile, ErrNotDataset)
			}
			return nil, fmt.Errorf("stat %s: %w", DescriptionFile, err)
		}
	}

	layout := NewLayout(root)
	layout.Derivatives = opts.Derivatives

	top, err := readDirSorted(fs, "/")
	if err != nil {
		return nil, fmt.Errorf("read dataset root: %w", err)
	}
	for _, info := range top {
		name := info.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !info.IsDir() {
			layout.AddFile(name, ScopeInputs)
			continue
		}
		switch {
		case ignoredDirs[name]:
			continue
		case name == string(ScopeDerivatives):
			if !opts.Derivatives {
				continue
			}
			if err := scanDerivatives(fs, layout, opts); err != nil {
				return nil, err
			}
		case name == string(ScopeSourcedata):
			if err := walk(fs, layout, name, ScopeSourcedata); err != nil {
				return nil, err
			}
		default:
			if err := walk(fs, layout, name, ScopeInputs); err != nil {
				return nil, err
			}
		}
	}

	opts.Logger.Debug().
		Int("files", layout.Len()).
		Strs("datatypes", layout.Datatypes()).
		Msg("indexed dataset")
	return layout, nil
}

func scanDerivatives(fs billy.Filesystem, layout *Layout, opts Options) error {
	pipelines, err := readDirSorted(fs, "/"+string(ScopeDerivatives))
	if err != nil {
		return fmt.Errorf("read derivatives: %w", err)
	}
	for _, info := range pipelines {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		dir := path.Join(string(ScopeDerivatives), info.Name())
		if opts.Validate {
			if _, err := fs.Stat("/" + path.Join(dir, DescriptionFile)); err != nil {
				opts.Logger.Warn().Str("pipeline", info.Name()).Msg("skipping derivative without " + DescriptionFile)
				continue
			}
		}
		if err := walk(fs, layout, dir, ScopeDerivatives); err != nil {
			return err
		}
	}
	return nil
}

// walk indexes every regular file below dir (relative, slash separated).
func walk(fs billy.Filesystem, layout *Layout, dir string, scope Scope) error {
	entries, err := readDirSorted(fs, "/"+dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, info := range entries {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		rel := path.Join(dir, info.Name())
		if info.IsDir() {
			if err := walk(fs, layout, rel, scope); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		layout.AddFile(rel, scope)
	}
	return nil
}

func readDirSorted(fs billy.Filesystem, dir string) ([]os.FileInfo, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}
