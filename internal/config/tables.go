// Package config holds the lookup tables and fixed values used to build
// archive descriptors, and loads overrides for them from HCL.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/bids2nda/api"
)

// ErrUnknownDatatype is returned when a datatype has no modality entry.
var ErrUnknownDatatype = errors.New("unknown datatype")

// Tables is the explicit configuration the generator runs with.
type Tables struct {
	Prefix string
	// ScanTypes maps datatype -> lower-cased variant key -> human-readable label.
	ScanTypes  map[string]map[string]string
	Modalities map[string]string

	ScanObject              string
	ImageFileFormat         string
	TransformationPerformed string
}

// Default returns the built-in tables.
func Default() Tables {
	return Tables{
		Prefix: api.DefaultPrefix,
		ScanTypes: map[string]map[string]string{
			"anat": {
				"mprage":  "MR structural (MPRAGE)",
				"t1w":     "MR structural (T1)",
				"pd":      "MR structural (PD)",
				"fspgr":   "MR structural (FSPGR)",
				"fsip":    "MR structural (FISP)",
				"t2w":     "MR structural (T2)",
				"pd_t2":   "MR structural (PD, T2)",
				"b0_map":  "MR structural (B0 map)",
				"b1_map":  "MR structural (B1 map)",
				"flash":   "MR structural (FLASH)",
				"mp2rage": "MR structural (MP2RAGE)",
				"tse":     "MR structural (TSE)",
				"t1w_t2w": "MR structural (T1, T2)",
				"mpnrage": "MR structural (MPnRAGE)",
			},
			"pet": {
				"pet": "PET",
			},
		},
		Modalities: map[string]string{
			"pet":  "PET",
			"anat": "MRI",
			"func": "MRI",
			"dwi":  "MRI",
			"fmap": "MRI",
		},
		ScanObject:              "Live",
		ImageFileFormat:         "NIFTI",
		TransformationPerformed: "No",
	}
}

// Tier names the step of the scan type lookup that produced a label.
type Tier int

const (
	TierExact    Tier = iota // variant matched a table key
	TierPrefix               // text before the first underscore matched
	TierDatatype             // datatype's own entry, e.g. pet -> pet
	TierNone                 // nothing matched
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierPrefix:
		return "prefix"
	case TierDatatype:
		return "datatype"
	default:
		return "none"
	}
}

// LookupScanType resolves a scan type label for a datatype and variant.
// Matching is case-insensitive on the variant. Tiers are tried in order:
// exact variant, variant prefix before the first underscore, the datatype's
// self entry. ok is false when no tier matched.
func (t Tables) LookupScanType(datatype, variant string) (label string, tier Tier, ok bool) {
	labels := t.ScanTypes[datatype]
	key := strings.ToLower(variant)
	if label, ok := labels[key]; ok {
		return label, TierExact, true
	}
	if prefix, _, found := strings.Cut(key, "_"); found {
		if label, ok := labels[prefix]; ok {
			return label, TierPrefix, true
		}
	}
	if label, ok := labels[datatype]; ok {
		return label, TierDatatype, true
	}
	return "", TierNone, false
}

// ScanType is LookupScanType collapsed to the label, empty when unmatched.
func (t Tables) ScanType(datatype, variant string) string {
	label, _, _ := t.LookupScanType(datatype, variant)
	return label
}

// Modality returns the imaging modality for a datatype.
func (t Tables) Modality(datatype string) (string, error) {
	m, ok := t.Modalities[datatype]
	if !ok {
		return "", fmt.Errorf("image modality for %q: %w", datatype, ErrUnknownDatatype)
	}
	return m, nil
}

// Descriptor builds the record for one descriptor file name.
func (t Tables) Descriptor(name api.FileName) (api.Descriptor, error) {
	modality, err := t.Modality(name.Datatype)
	if err != nil {
		return api.Descriptor{}, err
	}
	return api.Descriptor{
		ImageFileFormat:         t.ImageFileFormat,
		ImageModality:           modality,
		ScanObject:              t.ScanObject,
		ScanType:                t.ScanType(name.Datatype, name.Variant),
		TransformationPerformed: t.TransformationPerformed,
	}, nil
}
