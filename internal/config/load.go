package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

type fileConfig struct {
	Prefix                  string            `hcl:"prefix,optional"`
	ScanObject              string            `hcl:"scan_object,optional"`
	ImageFileFormat         string            `hcl:"image_file_format,optional"`
	TransformationPerformed string            `hcl:"transformation_performed,optional"`
	Modalities              map[string]string `hcl:"modalities,optional"`
	ScanTypes               []scanTypeBlock   `hcl:"scan_type,block"`
}

type scanTypeBlock struct {
	Datatype string            `hcl:"datatype,label"`
	Labels   map[string]string `hcl:"labels"`
}

// LoadFile reads an HCL (or HCL-JSON) file and applies it over Default().
func LoadFile(path string) (Tables, error) {
	var fc fileConfig
	if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
		return Tables{}, fmt.Errorf("decode tables %s: %w", path, err)
	}
	return fc.apply(Default()), nil
}

// Parse decodes src as the named file would be decoded and applies it over
// Default(). The extension of filename selects native HCL or JSON syntax.
func Parse(filename string, src []byte) (Tables, error) {
	var fc fileConfig
	if err := hclsimple.Decode(filename, src, nil, &fc); err != nil {
		return Tables{}, fmt.Errorf("decode tables %s: %w", filename, err)
	}
	return fc.apply(Default()), nil
}

// apply merges the file over t. Scan type blocks add to or replace entries
// of the existing datatype table rather than replacing the whole table.
func (fc fileConfig) apply(t Tables) Tables {
	if fc.Prefix != "" {
		t.Prefix = fc.Prefix
	}
	if fc.ScanObject != "" {
		t.ScanObject = fc.ScanObject
	}
	if fc.ImageFileFormat != "" {
		t.ImageFileFormat = fc.ImageFileFormat
	}
	if fc.TransformationPerformed != "" {
		t.TransformationPerformed = fc.TransformationPerformed
	}
	for datatype, modality := range fc.Modalities {
		t.Modalities[datatype] = modality
	}
	for _, block := range fc.ScanTypes {
		labels, ok := t.ScanTypes[block.Datatype]
		if !ok {
			labels = make(map[string]string, len(block.Labels))
			t.ScanTypes[block.Datatype] = labels
		}
		for key, label := range block.Labels {
			labels[strings.ToLower(key)] = label
		}
	}
	return t
}
