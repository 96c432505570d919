// Package ranking narrows a workspace snapshot to the files worth printing.
package ranking

import (
	"strings"

	"github.com/phobologic/rubydef/internal/model"
)

// SelectFiles returns a new Snapshot with only the top-ranked files.
// If maxFiles is <= 0 or >= len(files), the snapshot is returned as is.
func SelectFiles(snap *model.Snapshot, maxFiles int) *model.Snapshot {
	if maxFiles <= 0 || maxFiles >= len(snap.Files) {
		return snap
	}

	selected := snap.Files[:maxFiles]
	selectedPaths := make(map[string]struct{}, maxFiles)
	for i := range selected {
		selectedPaths[selected[i].Path] = struct{}{}
	}

	var deps []model.Dependency
	for i := range snap.Dependencies {
		d := &snap.Dependencies[i]
		_, srcOK := selectedPaths[d.Source]
		_, tgtOK := selectedPaths[d.Target]
		if srcOK && tgtOK {
			deps = append(deps, *d)
		}
	}

	return &model.Snapshot{
		Name:         snap.Name,
		Roots:        snap.Roots,
		Files:        selected,
		Symbols:      symbolsIn(snap.Symbols, selectedPaths),
		Dependencies: deps,
	}
}

// FilterBySymbol returns a new Snapshot containing only declarations whose
// qualified name contains substr (case-insensitive), the files declaring
// them, and the dependency edges that carry one of them.
func FilterBySymbol(snap *model.Snapshot, substr string) *model.Snapshot {
	lower := strings.ToLower(substr)

	matchedSymbols := make(map[string]struct{})
	matchedFiles := make(map[string]struct{})
	var decls []model.Occurrence
	for i := range snap.Symbols {
		occ := &snap.Symbols[i]
		if strings.Contains(strings.ToLower(occ.Path), lower) {
			matchedSymbols[occ.Path] = struct{}{}
			matchedFiles[occ.File] = struct{}{}
			decls = append(decls, *occ)
		}
	}

	var deps []model.Dependency
	for i := range snap.Dependencies {
		d := &snap.Dependencies[i]
		if _, ok := matchedFiles[d.Target]; !ok {
			continue
		}
		var syms []string
		for _, s := range d.Symbols {
			if carries(matchedSymbols, s) {
				syms = append(syms, s)
			}
		}
		if len(syms) > 0 {
			deps = append(deps, model.Dependency{Source: d.Source, Target: d.Target, Symbols: syms})
			matchedFiles[d.Source] = struct{}{}
		}
	}

	return &model.Snapshot{
		Name:         snap.Name,
		Roots:        snap.Roots,
		Files:        filesIn(snap.Files, matchedFiles),
		Symbols:      decls,
		Dependencies: deps,
	}
}

// FilterByFile returns a new Snapshot containing only files whose path
// contains substr (case-insensitive), their declarations and every
// dependency edge touching them.
func FilterByFile(snap *model.Snapshot, substr string) *model.Snapshot {
	lower := strings.ToLower(substr)

	matchedFiles := make(map[string]struct{})
	for i := range snap.Files {
		if strings.Contains(strings.ToLower(snap.Files[i].Path), lower) {
			matchedFiles[snap.Files[i].Path] = struct{}{}
		}
	}

	var deps []model.Dependency
	for i := range snap.Dependencies {
		d := &snap.Dependencies[i]
		_, srcOK := matchedFiles[d.Source]
		_, tgtOK := matchedFiles[d.Target]
		if srcOK || tgtOK {
			deps = append(deps, *d)
		}
	}

	return &model.Snapshot{
		Name:         snap.Name,
		Roots:        snap.Roots,
		Files:        filesIn(snap.Files, matchedFiles),
		Symbols:      symbolsIn(snap.Symbols, matchedFiles),
		Dependencies: deps,
	}
}

// carries reports whether a reference as written names one of the matched
// declarations, either exactly or as a trailing part of its path.
func carries(matched map[string]struct{}, ref string) bool {
	ref = strings.TrimPrefix(ref, "::")
	for name := range matched {
		if name == ref || strings.HasSuffix(name, "::"+ref) {
			return true
		}
	}
	return false
}

func filesIn(files []model.FileSummary, paths map[string]struct{}) []model.FileSummary {
	var out []model.FileSummary
	for i := range files {
		if _, ok := paths[files[i].Path]; ok {
			out = append(out, files[i])
		}
	}
	return out
}

func symbolsIn(decls []model.Occurrence, paths map[string]struct{}) []model.Occurrence {
	var out []model.Occurrence
	for i := range decls {
		if _, ok := paths[decls[i].File]; ok {
			out = append(out, decls[i])
		}
	}
	return out
}
