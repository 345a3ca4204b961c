// Package generator turns an indexed BIDS layout into archive descriptor
// pairs: a JSON manifest of path templates and a YAML record per
// (scope, datatype, variant).
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/agentic-research/bids2nda/api"
	"github.com/agentic-research/bids2nda/internal/bids"
	"github.com/agentic-research/bids2nda/internal/config"
	xlog "github.com/agentic-research/bids2nda/internal/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Output directories below the destination root.
const (
	JSONDir = "prepared_jsons"
	YAMLDir = "prepared_yamls"
)

// Config is everything a run needs.
type Config struct {
	Tables config.Tables
	Layout *bids.Layout
	// Output is rooted at the destination directory.
	Output billy.Filesystem
	// SkipUnknownDatatypes logs and skips datatypes without a modality
	// instead of failing the run.
	SkipUnknownDatatypes bool
	// ManifestPerVariant restricts each JSON manifest to the files that
	// produced its variant. By default every manifest lists all files of
	// the (scope, datatype) group.
	ManifestPerVariant bool
	Logger             zerolog.Logger
}

// Generator writes descriptor pairs for one layout.
type Generator struct {
	cfg Config
	log zerolog.Logger
}

// Summary reports what a run wrote.
type Summary struct {
	JSONDir string
	YAMLDir string
	Names   []api.FileName
}

// New validates cfg and creates the output directories.
func New(cfg Config) (*Generator, error) {
	if cfg.Layout == nil {
		return nil, errors.New("generator: nil layout")
	}
	if cfg.Output == nil {
		return nil, errors.New("generator: nil output filesystem")
	}
	for _, dir := range []string{JSONDir, YAMLDir} {
		if err := cfg.Output.MkdirAll("/"+dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Generator{
		cfg: cfg,
		log: cfg.Logger.With().Str(xlog.FieldComponent, "generator").Logger(),
	}, nil
}

// Run writes every descriptor pair. Scopes are visited in enumeration order
// and datatypes in sorted order; the first error stops the run.
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{JSONDir: JSONDir, YAMLDir: YAMLDir}
	datatypes := g.cfg.Layout.Datatypes()

	for _, scope := range g.cfg.Layout.PresentScopes() {
		for _, datatype := range datatypes {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			names, err := g.runGroup(scope, datatype)
			if err != nil {
				return summary, err
			}
			summary.Names = append(summary.Names, names...)
		}
	}

	g.log.Info().Int("pairs", len(summary.Names)).Msg("descriptors written")
	return summary, nil
}

func (g *Generator) runGroup(scope bids.Scope, datatype string) ([]api.FileName, error) {
	files := g.cfg.Layout.Get(bids.Query{Scope: scope, Datatype: datatype})
	groups := GroupByVariant(files)
	if len(groups) == 0 {
		return nil, nil
	}

	logger := g.log.With().
		Str(xlog.FieldScope, string(scope)).
		Str(xlog.FieldDatatype, datatype).
		Logger()

	if _, err := g.cfg.Tables.Modality(datatype); err != nil {
		if g.cfg.SkipUnknownDatatypes && errors.Is(err, config.ErrUnknownDatatype) {
			logger.Warn().Int(xlog.FieldFiles, len(files)).Msg("skipping datatype without modality")
			return nil, nil
		}
		return nil, fmt.Errorf("%s/%s: %w", scope, datatype, err)
	}

	var names []api.FileName
	for _, variant := range sortedKeys(groups) {
		members := files
		if g.cfg.ManifestPerVariant {
			members = groups[variant]
		}
		name := api.FileName{
			Prefix:   g.cfg.Tables.Prefix,
			Scope:    string(scope),
			Datatype: datatype,
			Variant:  variant,
		}
		if err := g.PrepareJSONContents(name, members); err != nil {
			return nil, err
		}
		if err := g.PrepareYAMLContents(name); err != nil {
			return nil, err
		}
		logger.Debug().
			Str(xlog.FieldVariant, variant).
			Int(xlog.FieldFiles, len(members)).
			Msg("wrote descriptor pair")
		names = append(names, name)
	}
	return names, nil
}

// PrepareJSONContents writes the manifest for name from files.
func (g *Generator) PrepareJSONContents(name api.FileName, files []*bids.File) error {
	scope, ok := bids.ParseScope(name.Scope)
	if !ok {
		return fmt.Errorf("manifest %s: unknown scope %q", name.JSON(), name.Scope)
	}
	manifest := make(api.Manifest, len(files))
	for _, f := range files {
		tmpl := Template(scope, f)
		manifest[tmpl] = tmpl
	}
	data, err := MarshalManifest(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", name.JSON(), err)
	}
	return g.write(path.Join(JSONDir, name.JSON()), data)
}

// PrepareYAMLContents writes the descriptor record for name.
func (g *Generator) PrepareYAMLContents(name api.FileName) error {
	desc, err := g.cfg.Tables.Descriptor(name)
	if err != nil {
		return fmt.Errorf("descriptor %s: %w", name.YAML(), err)
	}
	data, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode descriptor %s: %w", name.YAML(), err)
	}
	return g.write(path.Join(YAMLDir, name.YAML()), data)
}

func (g *Generator) write(name string, data []byte) error {
	if err := util.WriteFile(g.cfg.Output, "/"+name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// MarshalManifest encodes a manifest with two-space indentation, sorted keys,
// no HTML escaping and no trailing newline.
func MarshalManifest(m api.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
