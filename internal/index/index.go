// Package index holds the in-memory workspace symbol index.
//
// An Index is owned by a single writer (the protocol dispatch loop) and
// does no locking of its own.
package index

import (
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/phobologic/rubydef/internal/model"
)

// Index maps constant names to their occurrences and tracks the source
// file each occurrence came from.
type Index struct {
	byName map[string][]model.Occurrence
	byFile map[string][]model.Occurrence
	files  map[string]*model.SourceFile
}

// Stats summarizes the contents of an Index.
type Stats struct {
	Files        int
	Names        int
	Occurrences  int
	Declarations int
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byName: make(map[string][]model.Occurrence),
		byFile: make(map[string][]model.Occurrence),
		files:  make(map[string]*model.SourceFile),
	}
}

// ReplaceFile removes every occurrence previously attributed to path and
// inserts occs in its place. An unknown path is a pure insert and an empty
// occs is a pure purge. The File field of every inserted occurrence is set
// to path.
func (ix *Index) ReplaceFile(path string, occs []model.Occurrence) {
	ix.purge(path)
	if len(occs) == 0 {
		return
	}

	stored := make([]model.Occurrence, len(occs))
	copy(stored, occs)
	for i := range stored {
		stored[i].File = path
		name := stored[i].Name
		ix.byName[name] = append(ix.byName[name], stored[i])
	}
	ix.byFile[path] = stored
}

// Store records the parsed source of a file together with its occurrences.
func (ix *Index) Store(file *model.SourceFile, occs []model.Occurrence) {
	ix.ReplaceFile(file.Path, occs)
	ix.files[file.Path] = file
}

// RemoveFile purges path from the index. It reports whether anything was
// indexed for path.
func (ix *Index) RemoveFile(path string) bool {
	_, known := ix.files[path]
	_, hasOccs := ix.byFile[path]
	ix.ReplaceFile(path, nil)
	delete(ix.files, path)
	return known || hasOccs
}

func (ix *Index) purge(path string) {
	old, ok := ix.byFile[path]
	if !ok {
		return
	}
	delete(ix.byFile, path)

	names := make(map[string]struct{}, len(old))
	for _, o := range old {
		names[o.Name] = struct{}{}
	}
	for name := range names {
		kept := slices.DeleteFunc(ix.byName[name], func(o model.Occurrence) bool {
			return o.File == path
		})
		if len(kept) == 0 {
			delete(ix.byName, name)
		} else {
			ix.byName[name] = kept
		}
	}
}

// Lookup returns every occurrence recorded under the exact name.
func (ix *Index) Lookup(name string) []model.Occurrence {
	return slices.Clone(ix.byName[name])
}

// DeclarationsFor returns the declaration occurrences recorded under name.
func (ix *Index) DeclarationsFor(name string) []model.Occurrence {
	var out []model.Occurrence
	for _, o := range ix.byName[name] {
		if o.Role == model.Declaration {
			out = append(out, o)
		}
	}
	return out
}

// Names returns every indexed name, sorted.
func (ix *Index) Names() []string {
	names := make([]string, 0, len(ix.byName))
	for name := range ix.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the last stored parse of path.
func (ix *Index) Source(path string) (*model.SourceFile, bool) {
	f, ok := ix.files[path]
	return f, ok
}

// Occurrences returns the occurrences attributed to path in file order.
func (ix *Index) Occurrences(path string) []model.Occurrence {
	return slices.Clone(ix.byFile[path])
}

// OccurrenceAt returns the occurrence of path under the given 0-based
// position. When a declaration is recorded under both its qualified and
// bare name, the qualified one is returned.
func (ix *Index) OccurrenceAt(path string, line, column int) (model.Occurrence, bool) {
	for _, o := range ix.byFile[path] {
		if o.Contains(line, column) {
			return o, true
		}
	}
	return model.Occurrence{}, false
}

// Paths returns every indexed file path, sorted.
func (ix *Index) Paths() []string {
	seen := make(map[string]struct{}, len(ix.files)+len(ix.byFile))
	for p := range ix.files {
		seen[p] = struct{}{}
	}
	for p := range ix.byFile {
		seen[p] = struct{}{}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// PathsUnder returns the indexed paths equal to dir or below it.
func (ix *Index) PathsUnder(dir string) []string {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	var out []string
	for _, p := range ix.Paths() {
		if p == dir || strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// Stats reports the size of the index.
func (ix *Index) Stats() Stats {
	s := Stats{Files: len(ix.Paths()), Names: len(ix.byName)}
	for _, occs := range ix.byFile {
		s.Occurrences += len(occs)
		for _, o := range occs {
			if o.Role == model.Declaration {
				s.Declarations++
			}
		}
	}
	return s
}
