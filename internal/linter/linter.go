// Package linter checks a destination directory of descriptor pairs.
package linter

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/agentic-research/bids2nda/api"
	"github.com/agentic-research/bids2nda/internal/config"
	"github.com/agentic-research/bids2nda/internal/generator"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"gopkg.in/yaml.v3"
)

type Diagnostic struct {
	File    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.File, d.Message)
}

// templates selects every value of a manifest object.
var templates = jp.MustParseString("$.*")

// Lint reads prepared_jsons/ and prepared_yamls/ below the root of fs.
// Diagnostics are sorted by file then message. An error is returned only
// when a directory cannot be read.
func Lint(fs billy.Filesystem, tables config.Tables) ([]Diagnostic, error) {
	jsons, err := listStems(fs, generator.JSONDir, ".json")
	if err != nil {
		return nil, err
	}
	yamls, err := listStems(fs, generator.YAMLDir, ".yaml")
	if err != nil {
		return nil, err
	}

	var diags []Diagnostic
	for stem := range jsons {
		file := path.Join(generator.JSONDir, stem+".json")
		if !yamls[stem] {
			diags = append(diags, Diagnostic{File: file, Message: "no matching descriptor in " + generator.YAMLDir})
		}
		diags = append(diags, lintManifest(fs, file)...)
	}
	for stem := range yamls {
		file := path.Join(generator.YAMLDir, stem+".yaml")
		if !jsons[stem] {
			diags = append(diags, Diagnostic{File: file, Message: "no matching manifest in " + generator.JSONDir})
		}
		diags = append(diags, lintDescriptor(fs, file, tables)...)
	}

	sort.Slice(diags, func(i, j int) bool {
		if diags[i].File != diags[j].File {
			return diags[i].File < diags[j].File
		}
		return diags[i].Message < diags[j].Message
	})
	return diags, nil
}

func listStems(fs billy.Filesystem, dir, ext string) (map[string]bool, error) {
	infos, err := fs.ReadDir("/" + dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	stems := make(map[string]bool, len(infos))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ext) {
			continue
		}
		stems[strings.TrimSuffix(info.Name(), ext)] = true
	}
	return stems, nil
}

func lintManifest(fs billy.Filesystem, file string) []Diagnostic {
	var diags []Diagnostic
	if _, err := api.ParseFileName(path.Base(file)); err != nil {
		diags = append(diags, Diagnostic{File: file, Message: err.Error()})
	}

	data, err := util.ReadFile(fs, "/"+file)
	if err != nil {
		return append(diags, Diagnostic{File: file, Message: "read: " + err.Error()})
	}
	doc, err := oj.Parse(data)
	if err != nil {
		return append(diags, Diagnostic{File: file, Message: "invalid JSON: " + err.Error()})
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return append(diags, Diagnostic{File: file, Message: "manifest is not a JSON object"})
	}

	values := templates.Get(obj)
	if len(values) == 0 {
		return append(diags, Diagnostic{File: file, Message: "manifest has no templates"})
	}
	self := make(map[string]bool, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			diags = append(diags, Diagnostic{File: file, Message: fmt.Sprintf("template value %v is not a string", v)})
			continue
		}
		if obj[s] == s {
			self[s] = true
		}
	}
	// Every key must be reached as the value of its own entry.
	for key := range obj {
		if !self[key] {
			diags = append(diags, Diagnostic{File: file, Message: fmt.Sprintf("template %q does not map to itself", key)})
		}
	}
	return diags
}

func lintDescriptor(fs billy.Filesystem, file string, tables config.Tables) []Diagnostic {
	var diags []Diagnostic
	name, nameErr := api.ParseFileName(path.Base(file))
	if nameErr != nil {
		diags = append(diags, Diagnostic{File: file, Message: nameErr.Error()})
	}

	data, err := util.ReadFile(fs, "/"+file)
	if err != nil {
		return append(diags, Diagnostic{File: file, Message: "read: " + err.Error()})
	}
	var d api.Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return append(diags, Diagnostic{File: file, Message: "invalid YAML: " + err.Error()})
	}

	if d.ImageModality == "" {
		diags = append(diags, Diagnostic{File: file, Message: "image_modality is empty"})
	}
	if nameErr == nil {
		if want, err := tables.Modality(name.Datatype); err != nil {
			diags = append(diags, Diagnostic{File: file, Message: err.Error()})
		} else if d.ImageModality != "" && d.ImageModality != want {
			diags = append(diags, Diagnostic{File: file, Message: fmt.Sprintf("image_modality %q, want %q for %s", d.ImageModality, want, name.Datatype)})
		}
	}
	return diags
}
