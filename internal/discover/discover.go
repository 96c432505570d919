// Package discover finds parseable source files in one or more workspace roots.
package discover

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/rubydef/internal/lang"
)

// DefaultInclude matches every Ruby source file below a root.
const DefaultInclude = "**/*.rb"

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Absolute
	Rel      string // Relative to Root, slash-separated
	Root     string
	Language string
}

// Options controls which files are yielded.
type Options struct {
	Include []string // doublestar globs matched against Rel; empty means DefaultInclude
	Exclude []string // doublestar globs matched against Rel
	Logger  *slog.Logger
}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	".bundle":      {},
	"vendor":       {},
	"tmp":          {},
	"log":          {},
	"coverage":     {},
	"build":        {},
	"dist":         {},
}

// SkipDir reports whether a directory with this base name is never descended into.
func SkipDir(name string) bool {
	if _, skip := skipDirs[name]; skip {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// Walk lazily yields source files under each root. Traversal order is
// unspecified. Entries that cannot be read are logged and skipped; they
// never stop the walk.
func Walk(roots []string, opts Options) iter.Seq[FileEntry] {
	log := opts.logger()
	return func(yield func(FileEntry) bool) {
		for _, root := range roots {
			if !walkRoot(root, opts, log, yield) {
				return
			}
		}
	}
}

// Files collects Walk for a single root.
func Files(root string, opts Options) []FileEntry {
	var results []FileEntry
	for e := range Walk([]string{root}, opts) {
		results = append(results, e)
	}
	return results
}

func walkRoot(root string, opts Options, log *slog.Logger, yield func(FileEntry) bool) bool {
	root, err := filepath.Abs(root)
	if err != nil {
		log.Warn("skipping root", "root", root, "err", err)
		return true
	}

	gitFiles := gitLsFiles(root)
	var gi *ignores
	if gitFiles == nil {
		gi = newIgnores(root)
	}

	stopped := false
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Warn("skipping entry", "path", path, "err", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if SkipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Symlinks, sockets, devices
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[rel]; !ok {
				return nil
			}
		} else if gi != nil && gi.matches(path) {
			return nil
		}

		entry, ok := match(root, path, rel, opts)
		if !ok {
			return nil
		}
		if !yield(entry) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		log.Warn("walk failed", "root", root, "err", err)
	}
	return !stopped
}

// Accept reports whether path, which need not exist, would be yielded by
// Walk for root. It is used for files named in editor notifications.
func Accept(root, path string, opts Options) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if part != "." && SkipDir(part) {
			return false
		}
	}
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return false
	}
	if newIgnores(root).matches(path) {
		return false
	}
	_, ok := match(root, path, rel, opts)
	return ok
}

func match(root, path, rel string, opts Options) (FileEntry, bool) {
	langName := lang.ForExtension(filepath.Ext(path))
	if langName == "" {
		return FileEntry{}, false
	}

	slashRel := filepath.ToSlash(rel)
	include := opts.Include
	if len(include) == 0 {
		include = []string{DefaultInclude}
	}
	if !matchAny(include, slashRel) || matchAny(opts.Exclude, slashRel) {
		return FileEntry{}, false
	}

	return FileEntry{Path: path, Rel: slashRel, Root: root, Language: langName}, true
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[filepath.FromSlash(line)] = struct{}{}
		}
	}
	return files
}

// ignores compiles the .gitignore files below a root, once per directory,
// the way git applies them: each file matches paths relative to its own
// directory.
type ignores struct {
	root  string
	files map[string]*ignore.GitIgnore
}

func newIgnores(root string) *ignores {
	return &ignores{root: filepath.Clean(root), files: make(map[string]*ignore.GitIgnore)}
}

// matches reports whether path, which must lie under the root, is ignored
// by the .gitignore of its directory or of any directory above it up to
// the root.
func (ig *ignores) matches(path string) bool {
	dir := filepath.Dir(path)
	for {
		gi, seen := ig.files[dir]
		if !seen {
			gi = loadGitignore(dir)
			ig.files[dir] = gi
		}
		if gi != nil {
			if rel, err := filepath.Rel(dir, path); err == nil && gi.MatchesPath(rel) {
				return true
			}
		}
		parent := filepath.Dir(dir)
		if dir == ig.root || parent == dir {
			return false
		}
		dir = parent
	}
}

func loadGitignore(dir string) *ignore.GitIgnore {
	path := filepath.Join(dir, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
