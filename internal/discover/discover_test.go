package discover

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func rels(entries []FileEntry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Rel
	}
	sort.Strings(paths)
	return paths
}

func TestDiscoverRubyFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "app.rb", "class App; end")
	writeFile(t, dir, "lib/util.rb", "module Util; end")
	// Non-Ruby file should be ignored
	writeFile(t, dir, "readme.txt", "hello")
	// Hidden file should be ignored
	writeFile(t, dir, ".hidden.rb", "secret")

	entries := Files(dir, Options{})
	paths := rels(entries)

	if len(paths) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(paths), paths)
	}
	if paths[0] != "app.rb" || paths[1] != "lib/util.rb" {
		t.Errorf("paths = %v", paths)
	}

	for _, e := range entries {
		if e.Language != "ruby" {
			t.Errorf("entry %q: language = %q, want ruby", e.Rel, e.Language)
		}
		if !filepath.IsAbs(e.Path) {
			t.Errorf("entry %q: path %q is not absolute", e.Rel, e.Path)
		}
	}
}

func TestDiscoverSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.rb", "")
	writeFile(t, dir, "node_modules/pkg.rb", "")
	writeFile(t, dir, "vendor/gem.rb", "")
	writeFile(t, dir, ".hidden/secret.rb", "")

	paths := rels(Files(dir, Options{}))
	if len(paths) != 1 || paths[0] != "main.rb" {
		t.Fatalf("expected [main.rb], got %v", paths)
	}
}

func TestDiscoverGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, ".gitignore", "generated/\nscratch.rb\n")
	writeFile(t, dir, "keep.rb", "")
	writeFile(t, dir, "scratch.rb", "")
	writeFile(t, dir, "generated/schema.rb", "")

	paths := rels(Files(dir, Options{}))
	if len(paths) != 1 || paths[0] != "keep.rb" {
		t.Fatalf("expected [keep.rb], got %v", paths)
	}
}

func TestDiscoverIncludeExclude(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "app/models/user.rb", "")
	writeFile(t, dir, "app/models/user_test.rb", "")
	writeFile(t, dir, "db/schema.rb", "")

	paths := rels(Files(dir, Options{
		Include: []string{"app/**/*.rb"},
		Exclude: []string{"**/*_test.rb"},
	}))
	if len(paths) != 1 || paths[0] != "app/models/user.rb" {
		t.Fatalf("expected [app/models/user.rb], got %v", paths)
	}
}

func TestDiscoverMultipleRoots(t *testing.T) {
	t.Parallel()

	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, a, "a.rb", "")
	writeFile(t, b, "b.rb", "")

	var got []string
	for e := range Walk([]string{a, b}, Options{}) {
		got = append(got, filepath.Base(e.Path))
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a.rb" || got[1] != "b.rb" {
		t.Fatalf("got %v", got)
	}
}

func TestWalkStopsEarly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.rb", "")
	writeFile(t, dir, "b.rb", "")
	writeFile(t, dir, "c.rb", "")

	n := 0
	for range Walk([]string{dir}, Options{}) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("expected to stop after 1 entry, got %d", n)
	}
}

func TestDiscoverSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "real.rb", "")

	err := os.Symlink(filepath.Join(dir, "real.rb"), filepath.Join(dir, "link.rb"))
	if err != nil {
		t.Skip("symlinks not supported")
	}
	// Broken symlink must not abort the walk
	_ = os.Symlink(filepath.Join(dir, "missing.rb"), filepath.Join(dir, "broken.rb"))

	paths := rels(Files(dir, Options{}))
	if len(paths) != 1 || paths[0] != "real.rb" {
		t.Fatalf("expected [real.rb], got %v", paths)
	}
}

func TestAccept(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "ignored.rb\n")

	cases := []struct {
		rel  string
		want bool
	}{
		{"new.rb", true},
		{"lib/deep/new.rb", true},
		{"notes.txt", false},
		{"ignored.rb", false},
		{"node_modules/x.rb", false},
		{".secret.rb", false},
	}
	for _, tc := range cases {
		t.Run(tc.rel, func(t *testing.T) {
			t.Parallel()
			got := Accept(dir, filepath.Join(dir, tc.rel), Options{})
			if got != tc.want {
				t.Errorf("Accept(%q) = %v, want %v", tc.rel, got, tc.want)
			}
		})
	}

	if Accept(dir, filepath.Join(filepath.Dir(dir), "outside.rb"), Options{}) {
		t.Error("path outside root accepted")
	}
}

func TestNestedGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "tmp/\n")
	writeFile(t, dir, "lib/.gitignore", "local.rb\n")
	writeFile(t, dir, "lib/local.rb", "")
	writeFile(t, dir, "lib/shared.rb", "")
	writeFile(t, dir, "lib/tmp/cache.rb", "")

	paths := rels(Files(dir, Options{}))
	if len(paths) != 1 || paths[0] != "lib/shared.rb" {
		t.Fatalf("expected [lib/shared.rb], got %v", paths)
	}

	cases := []struct {
		rel  string
		want bool
	}{
		{"lib/shared.rb", true},
		{"lib/local.rb", false},
		{"lib/deep/local.rb", false},
		{"local.rb", true},
		{"lib/tmp/cache.rb", false},
	}
	for _, tc := range cases {
		if got := Accept(dir, filepath.Join(dir, tc.rel), Options{}); got != tc.want {
			t.Errorf("Accept(%q) = %v, want %v", tc.rel, got, tc.want)
		}
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
