// Package graph builds the file dependency graph of an indexed workspace
// and ranks files with PageRank.
package graph

import (
	"math"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/phobologic/rubydef/internal/index"
	"github.com/phobologic/rubydef/internal/model"
	"github.com/phobologic/rubydef/internal/resolve"
)

// BuildGraph creates dependency edges from constant references: a file
// depends on every other file holding a declaration its references resolve
// to. Edges are sorted by source, then target.
func BuildGraph(ix *index.Index, r *resolve.Resolver) []model.Dependency {
	type edgeKey struct{ src, tgt string }
	edgeSymbols := make(map[edgeKey][]string)

	for _, path := range ix.Paths() {
		for _, occ := range ix.Occurrences(path) {
			if occ.Role != model.Reference {
				continue
			}
			for _, loc := range r.Resolve(resolve.Query{Name: occ.Path, Scope: occ.Scope}) {
				if loc.File == path {
					continue // no self-edges
				}
				key := edgeKey{path, loc.File}
				if !slices.Contains(edgeSymbols[key], occ.Path) {
					edgeSymbols[key] = append(edgeSymbols[key], occ.Path)
				}
			}
		}
	}

	deps := make([]model.Dependency, 0, len(edgeSymbols))
	for key, syms := range edgeSymbols {
		deps = append(deps, model.Dependency{
			Source:  key.src,
			Target:  key.tgt,
			Symbols: syms,
		})
	}

	// Sort for deterministic output
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Source != deps[j].Source {
			return deps[i].Source < deps[j].Source
		}
		return deps[i].Target < deps[j].Target
	})

	return deps
}

// Summarize describes every indexed file. Declarations counts qualified
// declarations only, not the bare-name copies of nested ones.
func Summarize(ix *index.Index) []model.FileSummary {
	var files []model.FileSummary
	for _, path := range ix.Paths() {
		fs := model.FileSummary{Path: path}
		if src, ok := ix.Source(path); ok {
			fs.Tokens = len(src.Tokens)
			fs.Diagnostics = len(src.Diagnostics)
		}
		for _, occ := range ix.Occurrences(path) {
			if isQualifiedDeclaration(occ) {
				fs.Declarations++
			}
		}
		files = append(files, fs)
	}
	return files
}

// Snapshot collects the files, declarations and dependency edges of ix,
// ranked by PageRank. Paths are made relative to the first root that
// contains them.
func Snapshot(name string, roots []string, ix *index.Index, r *resolve.Resolver) *model.Snapshot {
	files := Summarize(ix)
	deps := BuildGraph(ix, r)
	Rank(files, deps)

	var decls []model.Occurrence
	for _, path := range ix.Paths() {
		for _, occ := range ix.Occurrences(path) {
			if isQualifiedDeclaration(occ) {
				decls = append(decls, occ)
			}
		}
	}

	rel := func(p string) string { return relative(roots, p) }
	for i := range files {
		files[i].Path = rel(files[i].Path)
	}
	for i := range decls {
		decls[i].File = rel(decls[i].File)
	}
	for i := range deps {
		deps[i].Source = rel(deps[i].Source)
		deps[i].Target = rel(deps[i].Target)
	}

	return &model.Snapshot{
		Name:         name,
		Roots:        roots,
		Files:        files,
		Symbols:      decls,
		Dependencies: deps,
	}
}

// Rank applies PageRank to files and sorts them by rank descending.
func Rank(files []model.FileSummary, deps []model.Dependency) {
	if len(files) == 0 {
		return
	}

	if len(deps) == 0 {
		uniform := 1.0 / float64(len(files))
		for i := range files {
			files[i].Rank = uniform
		}
		return
	}

	// Edge from source to target means source references target.
	// Each referenced constant counts as one edge.
	outEdges := make(map[string][]string)
	outDegree := make(map[string]int)
	nodes := make(map[string]struct{})

	for i := range files {
		nodes[files[i].Path] = struct{}{}
	}

	for _, d := range deps {
		for range d.Symbols {
			outEdges[d.Source] = append(outEdges[d.Source], d.Target)
			outDegree[d.Source]++
		}
	}

	ranks := pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)

	for i := range files {
		files[i].Rank = ranks[files[i].Path]
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Rank > files[j].Rank
	})
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for range maxIter {
		newRank := make(map[string]float64, n)

		// Dangling nodes spread their rank evenly.
		var danglingSum float64
		for node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for src, targets := range outEdges {
			contrib := alpha * rank[src] / float64(outDegree[src])
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}

		rank = newRank

		if diff < tol {
			break
		}
	}

	return rank
}

func isQualifiedDeclaration(occ model.Occurrence) bool {
	return occ.Role == model.Declaration && occ.Name == occ.Path
}

func relative(roots []string, path string) string {
	for _, root := range roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return path
}
