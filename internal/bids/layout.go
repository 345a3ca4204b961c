// Package bids indexes a BIDS dataset and answers the queries the
// descriptor generator needs: files by scope and datatype, the datatypes
// and scopes present, and entity parsing of single paths.
package bids

import (
	"path"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// Scope is a dataset partition.
type Scope string

const (
	ScopeInputs      Scope = "inputs"
	ScopeDerivatives Scope = "derivatives"
	ScopeSourcedata  Scope = "sourcedata"
)

// Scopes lists every scope in enumeration order.
var Scopes = []Scope{ScopeInputs, ScopeDerivatives, ScopeSourcedata}

// ParseScope maps a scope name to a Scope. "raw" is accepted for inputs.
func ParseScope(s string) (Scope, bool) {
	switch s {
	case "inputs", "raw":
		return ScopeInputs, true
	case "derivatives":
		return ScopeDerivatives, true
	case "sourcedata":
		return ScopeSourcedata, true
	}
	return "", false
}

// File is one indexed dataset file.
type File struct {
	ID uint32
	// Path is the dataset root joined with RelPath.
	Path string
	// RelPath is relative to the dataset root, slash separated.
	RelPath  string
	Scope    Scope
	Entities Entities
}

// Layout is an in-memory index of a dataset.
type Layout struct {
	Root        string
	Derivatives bool

	files []*File
	byRel map[string]uint32

	// Roaring bitmap posting lists: "name=value" -> file IDs, scope -> file IDs.
	postings map[string]*roaring.Bitmap
	scopes   map[Scope]*roaring.Bitmap
}

// NewLayout returns an empty layout rooted at root.
func NewLayout(root string) *Layout {
	return &Layout{
		Root:     root,
		byRel:    make(map[string]uint32),
		postings: make(map[string]*roaring.Bitmap),
		scopes:   make(map[Scope]*roaring.Bitmap),
	}
}

func postingKey(name, value string) string {
	return name + "=" + value
}

// AddFile indexes a file by its dataset-relative path. Entities are parsed
// from relPath. Adding the same path twice returns the existing file.
func (l *Layout) AddFile(relPath string, scope Scope) *File {
	relPath = strings.TrimPrefix(path.Clean(strings.ReplaceAll(relPath, `\`, "/")), "/")
	if id, ok := l.byRel[relPath]; ok {
		return l.files[id]
	}

	f := &File{
		ID:       uint32(len(l.files)),
		Path:     path.Join(l.Root, relPath),
		RelPath:  relPath,
		Scope:    scope,
		Entities: ParseEntities(relPath),
	}
	l.files = append(l.files, f)
	l.byRel[relPath] = f.ID

	bm, ok := l.scopes[scope]
	if !ok {
		bm = roaring.New()
		l.scopes[scope] = bm
	}
	bm.Add(f.ID)

	for name, value := range f.Entities {
		key := postingKey(name, value)
		bm, ok := l.postings[key]
		if !ok {
			bm = roaring.New()
			l.postings[key] = bm
		}
		bm.Add(f.ID)
	}
	return f
}

// Len returns the number of indexed files.
func (l *Layout) Len() int { return len(l.files) }

// Files returns every indexed file in insertion order.
func (l *Layout) Files() []*File {
	out := make([]*File, len(l.files))
	copy(out, l.files)
	return out
}

// Lookup returns the file indexed under relPath.
func (l *Layout) Lookup(relPath string) (*File, bool) {
	id, ok := l.byRel[relPath]
	if !ok {
		return nil, false
	}
	return l.files[id], true
}

// Query filters files. Zero fields do not filter.
type Query struct {
	Scope    Scope
	Datatype string
	// Entities requires exact entity values, e.g. {"suffix": "T1w"}.
	Entities map[string]string
}

// Get returns the files matching q sorted by path.
func (l *Layout) Get(q Query) []*File {
	var acc *roaring.Bitmap
	and := func(bm *roaring.Bitmap) {
		if bm == nil {
			bm = roaring.New()
		}
		if acc == nil {
			acc = bm.Clone()
			return
		}
		acc.And(bm)
	}

	if q.Scope != "" {
		and(l.scopes[q.Scope])
	}
	if q.Datatype != "" {
		and(l.postings[postingKey(EntityDatatype, q.Datatype)])
	}
	for name, value := range q.Entities {
		and(l.postings[postingKey(name, value)])
	}

	var out []*File
	if acc == nil {
		out = l.Files()
	} else {
		out = make([]*File, 0, acc.GetCardinality())
		it := acc.Iterator()
		for it.HasNext() {
			out = append(out, l.files[it.Next()])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Has reports whether any file belongs to scope.
func (l *Layout) Has(scope Scope) bool {
	bm, ok := l.scopes[scope]
	return ok && !bm.IsEmpty()
}

// PresentScopes returns the scopes with at least one file, in enumeration order.
func (l *Layout) PresentScopes() []Scope {
	var out []Scope
	for _, s := range Scopes {
		if l.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// EntityValues returns the sorted distinct values of an entity.
func (l *Layout) EntityValues(name string) []string {
	prefix := name + "="
	var out []string
	for key, bm := range l.postings {
		if value, ok := strings.CutPrefix(key, prefix); ok && !bm.IsEmpty() {
			out = append(out, value)
		}
	}
	sort.Strings(out)
	return out
}

// Datatypes returns the sorted datatypes present in any scope.
func (l *Layout) Datatypes() []string {
	return l.EntityValues(EntityDatatype)
}

// ParseFileEntities parses a path the way indexed files are parsed.
func (l *Layout) ParseFileEntities(p string) Entities {
	return ParseEntities(p)
}
