package generator

import (
	"sort"

	"github.com/agentic-research/bids2nda/internal/bids"
)

// Entities that never contribute to a variant.
var ignoredEntities = map[string]bool{
	bids.EntityDescription: true,
	bids.EntitySubject:     true,
	bids.EntitySession:     true,
	bids.EntityExtension:   true,
	bids.EntitySuffix:      true,
	bids.EntityDatatype:    true,
}

// Variants derives the variant names one file contributes. Every remaining
// entity gives "name-value" (the bare value for space), suffixed with
// "_<suffix>" when the suffix differs from the datatype. A file with no
// remaining entities contributes its suffix alone, unless the suffix equals
// the datatype.
func Variants(ents bids.Entities) []string {
	suffix, datatype := ents.Suffix(), ents.Datatype()
	distinct := suffix != "" && suffix != datatype

	var out []string
	ents.Each(func(name, value string) {
		if ignoredEntities[name] {
			return
		}
		z := name + "-" + value
		if name == bids.EntitySpace {
			z = value
		}
		if distinct {
			z += "_" + suffix
		}
		out = append(out, z)
	})
	if len(out) == 0 && distinct {
		out = append(out, suffix)
	}
	return out
}

// FetchVariants returns the sorted set of variants over files.
func FetchVariants(files []*bids.File) []string {
	return sortedKeys(GroupByVariant(files))
}

// GroupByVariant maps each variant to the files that contribute it, keeping
// the input order of files within a group.
func GroupByVariant(files []*bids.File) map[string][]*bids.File {
	groups := make(map[string][]*bids.File)
	for _, f := range files {
		seen := make(map[string]bool)
		for _, z := range Variants(f.Entities) {
			if seen[z] {
				continue
			}
			seen[z] = true
			groups[z] = append(groups[z], f)
		}
	}
	return groups
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
