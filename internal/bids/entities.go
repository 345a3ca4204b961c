package bids

import (
	"regexp"
	"strings"
)

// Entity names with special handling by the generator.
const (
	EntitySubject     = "subject"
	EntitySession     = "session"
	EntitySpace       = "space"
	EntityDescription = "desc"
	EntitySuffix      = "suffix"
	EntityDatatype    = "datatype"
	EntityExtension   = "extension"
)

// entityDef is one row of the entity table. Patterns are matched against the
// dataset-relative path using forward slashes.
type entityDef struct {
	name    string
	pattern *regexp.Regexp
}

func keyed(name, key, value string) entityDef {
	sep := `[_/]`
	if key == "sub" {
		sep = `/`
	}
	return entityDef{
		name:    name,
		pattern: regexp.MustCompile(`(?:^|` + sep + `)` + key + `-(` + value + `)`),
	}
}

const (
	alnum  = `[a-zA-Z0-9]+`
	digits = `[0-9]+`
)

// entityTable is ordered: Entities.Each and the variant derivation iterate it
// in this order. Variant strings are built from these names.
var entityTable = []entityDef{
	keyed(EntitySubject, "sub", alnum),
	keyed(EntitySession, "ses", alnum),
	keyed("sample", "sample", alnum),
	keyed("task", "task", alnum),
	keyed("tracksys", "tracksys", alnum),
	keyed("acquisition", "acq", alnum),
	keyed("nucleus", "nuc", alnum),
	keyed("volume", "voi", alnum),
	keyed("ceagent", "ce", alnum),
	keyed("staining", "stain", alnum),
	keyed("tracer", "trc", alnum),
	keyed("reconstruction", "rec", alnum),
	keyed("direction", "dir", alnum),
	keyed("run", "run", digits),
	keyed("modality", "mod", alnum),
	keyed("echo", "echo", digits),
	keyed("flip", "flip", digits),
	keyed("inv", "inv", digits),
	keyed("mt", "mt", `on|off`),
	keyed("part", "part", `mag|phase|real|imag`),
	keyed("proc", "proc", alnum),
	keyed("hemi", "hemi", `L|R`),
	keyed(EntitySpace, "space", alnum),
	keyed("split", "split", digits),
	keyed("recording", "recording", alnum),
	keyed("chunk", "chunk", digits),
	keyed("seg", "seg", alnum),
	keyed("res", "res", alnum),
	keyed("den", "den", alnum),
	keyed("label", "label", alnum),
	keyed("atlas", "atlas", alnum),
	keyed("roi", "roi", alnum),
	keyed("from", "from", alnum),
	keyed("to", "to", alnum),
	keyed("mode", "mode", alnum),
	keyed("model", "model", alnum),
	keyed("subset", "subset", alnum),
	keyed(EntityDescription, "desc", alnum),
	{name: "scans", pattern: regexp.MustCompile(`(.*_scans\.tsv)$`)},
	{name: "fmap", pattern: regexp.MustCompile(`(phasediff|magnitude[1-2]|phase[1-2]|fieldmap|epi)\.nii`)},
	{name: EntitySuffix, pattern: regexp.MustCompile(`[._]*([a-zA-Z0-9]*?)\.[^/]+$`)},
	{name: EntityDatatype, pattern: regexp.MustCompile(`(?:^|/)(anat|beh|dwi|eeg|fmap|func|ieeg|meg|micr|motion|nirs|perf|pet)/`)},
	{name: EntityExtension, pattern: regexp.MustCompile(`[^./](\.[^/]+)$`)},
}

// EntityNames returns the entity names in table order.
func EntityNames() []string {
	names := make([]string, len(entityTable))
	for i, def := range entityTable {
		names[i] = def.name
	}
	return names
}

// Entities holds the parsed entities of one file keyed by entity name.
type Entities map[string]string

// ParseEntities extracts every entity the table knows from path.
// The extension keeps its leading dot. Unmatched entities are absent.
func ParseEntities(path string) Entities {
	path = strings.ReplaceAll(path, `\`, "/")
	ents := make(Entities)
	for _, def := range entityTable {
		m := def.pattern.FindStringSubmatch(path)
		if m == nil || m[1] == "" {
			continue
		}
		ents[def.name] = m[1]
	}
	return ents
}

// Get returns the value of an entity, empty when absent.
func (e Entities) Get(name string) string {
	return e[name]
}

// Each calls fn for every present entity in table order.
func (e Entities) Each(fn func(name, value string)) {
	for _, def := range entityTable {
		if v, ok := e[def.name]; ok {
			fn(def.name, v)
		}
	}
}

// Suffix returns the suffix entity.
func (e Entities) Suffix() string { return e[EntitySuffix] }

// Datatype returns the datatype entity.
func (e Entities) Datatype() string { return e[EntityDatatype] }
