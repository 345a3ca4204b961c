package generator

import (
	"regexp"
	"strings"

	"github.com/agentic-research/bids2nda/internal/bids"
)

// Placeholder tokens written into manifest templates.
const (
	SubjectPlaceholder = "{SUBJECT}"
	SessionPlaceholder = "{SESSION}"
	DigitPlaceholder   = "{#}"
)

var hyphenDigit = regexp.MustCompile(`-\d`)

// scopePrefixes marks where the archive-relative part of a path begins.
// Scopes without an entry keep the full source path.
var scopePrefixes = map[bids.Scope]string{
	bids.ScopeInputs:      "sub-",
	bids.ScopeDerivatives: "derivatives",
}

// SubPath trims f's path to the segment starting at the scope prefix.
// The prefix is searched in the dataset-relative path so a source root that
// happens to contain it does not shift the cut.
func SubPath(scope bids.Scope, f *bids.File) string {
	prefix, ok := scopePrefixes[scope]
	if !ok {
		return f.Path
	}
	if i := strings.Index(f.RelPath, prefix); i >= 0 {
		return f.RelPath[i:]
	}
	return f.RelPath
}

// ReplacePlaceholders swaps the subject and session labels for placeholder
// tokens, then every hyphen followed by a digit becomes "-{#}".
func ReplacePlaceholders(path, subject, session string) string {
	if subject != "" {
		path = strings.ReplaceAll(path, "sub-"+subject, "sub-"+SubjectPlaceholder)
	}
	if session != "" {
		path = strings.ReplaceAll(path, "ses-"+session, "ses-"+SessionPlaceholder)
	}
	return hyphenDigit.ReplaceAllString(path, "-"+DigitPlaceholder)
}

// Template normalizes one file into its manifest template.
func Template(scope bids.Scope, f *bids.File) string {
	sub := SubPath(scope, f)
	ents := bids.ParseEntities(sub)
	return ReplacePlaceholders(sub, ents.Get(bids.EntitySubject), ents.Get(bids.EntitySession))
}
