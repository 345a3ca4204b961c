package api

import (
	"fmt"
	"regexp"
)

// DefaultPrefix is the archive structure short name every descriptor file starts with.
const DefaultPrefix = "image03"

var fileNamePattern = regexp.MustCompile(`^([^_]+)_([^.]+)\.([^.]+)\.([^.]+)\..+$`)

// FileName identifies one descriptor pair: <prefix>_<scope>.<datatype>.<variant>.<ext>.
type FileName struct {
	Prefix   string
	Scope    string
	Datatype string
	// Variant is the entity-derived suffix (the "Z" component).
	Variant string
}

// Stem returns the name without extension.
func (f FileName) Stem() string {
	return fmt.Sprintf("%s_%s.%s.%s", f.Prefix, f.Scope, f.Datatype, f.Variant)
}

// JSON returns the manifest file name.
func (f FileName) JSON() string { return f.Stem() + ".json" }

// YAML returns the descriptor file name.
func (f FileName) YAML() string { return f.Stem() + ".yaml" }

// ParseFileName splits a descriptor file name into its components.
// The variant may not contain a dot and an extension is required.
func ParseFileName(name string) (FileName, error) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return FileName{}, fmt.Errorf("descriptor name %q does not match <prefix>_<scope>.<datatype>.<variant>.<ext>", name)
	}
	return FileName{Prefix: m[1], Scope: m[2], Datatype: m[3], Variant: m[4]}, nil
}
