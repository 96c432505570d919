// Package resolve maps constant references to their declarations using
// Ruby's lexical constant lookup order.
package resolve

import (
	"slices"
	"strings"

	"github.com/phobologic/rubydef/internal/index"
	"github.com/phobologic/rubydef/internal/model"
	"github.com/phobologic/rubydef/internal/symbols"
)

// Query asks for the declarations of Name as seen from Scope, the
// enclosing module path (outermost first). Name may be a "::" chain; a
// leading "::" restricts the lookup to the top level.
type Query struct {
	Name  string
	Scope []string
}

// Resolver answers definition queries against an Index.
type Resolver struct {
	ix *index.Index
}

// New returns a Resolver reading ix.
func New(ix *index.Index) *Resolver {
	return &Resolver{ix: ix}
}

// Resolve returns the declarations q refers to, most specific level first:
// the nearest enclosing scope, then each outer scope, then the top level,
// then any declaration whose qualified name ends in q.Name. Only the first
// level with a match is returned, sorted by file, line and column. An
// unknown name yields an empty result.
func (r *Resolver) Resolve(q Query) []model.Location {
	name := q.Name
	if name == "" || name == symbols.Separator {
		return nil
	}

	if top, ok := strings.CutPrefix(name, symbols.Separator); ok {
		return locations(r.exact(top))
	}

	for i := len(q.Scope); i >= 0; i-- {
		key := name
		if i > 0 {
			key = strings.Join(q.Scope[:i], symbols.Separator) + symbols.Separator + name
		}
		if found := r.exact(key); len(found) > 0 {
			return locations(found)
		}
	}

	return locations(r.suffix(name))
}

// exact returns declarations whose qualified path is key.
func (r *Resolver) exact(key string) []model.Occurrence {
	var out []model.Occurrence
	for _, o := range r.ix.DeclarationsFor(key) {
		if o.Path == key {
			out = append(out, o)
		}
	}
	return out
}

// suffix returns declarations whose qualified path ends with name.
func (r *Resolver) suffix(name string) []model.Occurrence {
	segs := symbols.SplitPath(name)
	last := segs[len(segs)-1]
	var out []model.Occurrence
	for _, o := range r.ix.DeclarationsFor(last) {
		if o.Path == name || strings.HasSuffix(o.Path, symbols.Separator+name) {
			out = append(out, o)
		}
	}
	return out
}

func locations(occs []model.Occurrence) []model.Location {
	locs := make([]model.Location, 0, len(occs))
	for _, o := range occs {
		locs = append(locs, o.Location())
	}
	slices.SortFunc(locs, func(a, b model.Location) int {
		if c := strings.Compare(a.File, b.File); c != 0 {
			return c
		}
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return a.Column - b.Column
	})
	return slices.Compact(locs)
}
