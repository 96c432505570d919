// Package workspace feeds discovered files through the parser and the
// symbol indexer into the workspace index.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"

	"github.com/phobologic/rubydef/internal/discover"
	"github.com/phobologic/rubydef/internal/index"
	"github.com/phobologic/rubydef/internal/model"
	"github.com/phobologic/rubydef/internal/parse"
	"github.com/phobologic/rubydef/internal/symbols"
)

// DefaultMaxFileSize is the size above which files are not indexed.
const DefaultMaxFileSize = 1_000_000 // 1 MB

// Options configures a Builder.
type Options struct {
	Discover    discover.Options
	MaxFileSize int64 // 0 disables the limit
	Workers     int   // parallel parses during IndexRoots; 0 means GOMAXPROCS
	Logger      *slog.Logger
}

// Stats counts what a build did.
type Stats struct {
	Files     int // indexed or refreshed
	Unchanged int // content identical to the indexed copy, not re-parsed
	Skipped   int // too large or unreadable
}

// Builder writes parse results into an Index. All methods that write the
// index must be called from the goroutine that owns it.
type Builder struct {
	parser parse.Parser
	ix     *index.Index
	opts   Options
	log    *slog.Logger
}

// New returns a Builder writing to ix.
func New(p parse.Parser, ix *index.Index, opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	opts.Discover.Logger = log
	return &Builder{parser: p, ix: ix, opts: opts, log: log}
}

// Index returns the index the Builder writes to.
func (b *Builder) Index() *index.Index {
	return b.ix
}

// DiscoverOptions returns the discovery filters in use.
func (b *Builder) DiscoverOptions() discover.Options {
	return b.opts.Discover
}

type loaded struct {
	file      *model.SourceFile
	occs      []model.Occurrence
	unchanged bool
}

// IndexRoots discovers every file under roots and indexes it. Files are
// read and parsed by up to Workers goroutines; results are merged into the
// index serially on the calling goroutine.
func (b *Builder) IndexRoots(ctx context.Context, roots []string) (Stats, error) {
	// Workers compare against a snapshot so they never read the live index.
	prior := make(map[string]*model.SourceFile)
	for _, p := range b.ix.Paths() {
		if f, ok := b.ix.Source(p); ok {
			prior[p] = f
		}
	}

	results := make(chan loaded, b.opts.Workers)
	done := make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	var skipped atomic.Int64

	go func() {
		for entry := range discover.Walk(roots, b.opts.Discover) {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				l, err := b.load(entry.Path, prior[entry.Path])
				if err != nil {
					b.log.Warn("skipping file", "path", entry.Path, "err", err)
					skipped.Add(1)
					return nil
				}
				select {
				case results <- l:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		done <- g.Wait()
		close(results)
	}()

	var stats Stats
	for l := range results {
		b.merge(l, &stats)
	}
	stats.Skipped = int(skipped.Load())
	if err := <-done; err != nil {
		return stats, fmt.Errorf("indexing workspace: %w", err)
	}
	return stats, nil
}

// IndexFile re-reads path from disk and replaces its index entry.
func (b *Builder) IndexFile(path string) error {
	prior, _ := b.ix.Source(path)
	l, err := b.load(path, prior)
	if err != nil {
		return err
	}
	var stats Stats
	b.merge(l, &stats)
	return nil
}

// IndexSource indexes an in-memory buffer for path, such as an unsaved
// editor document, and returns its diagnostics.
func (b *Builder) IndexSource(path string, src []byte) []model.Diagnostic {
	prior, _ := b.ix.Source(path)
	l := b.build(path, src, prior)
	var stats Stats
	b.merge(l, &stats)
	return l.file.Diagnostics
}

// IndexPath brings the index up to date for path after an external change.
// A missing path is removed, a directory is indexed recursively and a file
// outside root's filters is dropped. It returns the number of files touched.
func (b *Builder) IndexPath(root, path string) int {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.log.Warn("cannot stat", "path", path, "err", err)
		}
		return b.Remove(path)
	}

	if info.IsDir() {
		n := 0
		for entry := range discover.Walk([]string{path}, b.opts.Discover) {
			if !discover.Accept(root, entry.Path, b.opts.Discover) {
				continue
			}
			if err := b.IndexFile(entry.Path); err != nil {
				b.log.Warn("skipping file", "path", entry.Path, "err", err)
				continue
			}
			n++
		}
		return n
	}

	if !discover.Accept(root, path, b.opts.Discover) {
		return b.Remove(path)
	}
	if err := b.IndexFile(path); err != nil {
		b.log.Warn("skipping file", "path", path, "err", err)
		return b.Remove(path)
	}
	return 1
}

// Remove drops path, and every indexed file below it when path is a
// directory. It returns the number of files removed.
func (b *Builder) Remove(path string) int {
	n := 0
	for _, p := range b.ix.PathsUnder(path) {
		if b.ix.RemoveFile(p) {
			n++
		}
	}
	return n
}

func (b *Builder) merge(l loaded, stats *Stats) {
	if l.unchanged {
		stats.Unchanged++
		return
	}
	b.ix.Store(l.file, l.occs)
	stats.Files++
	if len(l.file.Diagnostics) > 0 {
		b.log.Debug("parse diagnostics", "path", l.file.Path, "count", len(l.file.Diagnostics))
	}
}

// load reads and parses path unless its size and digest match prior.
func (b *Builder) load(path string, prior *model.SourceFile) (loaded, error) {
	info, err := os.Stat(path)
	if err != nil {
		return loaded{}, err
	}
	if b.opts.MaxFileSize > 0 && info.Size() > b.opts.MaxFileSize {
		return loaded{}, fmt.Errorf("skipped (>%d bytes)", b.opts.MaxFileSize)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return loaded{}, err
	}
	return b.build(path, src, prior), nil
}

func (b *Builder) build(path string, src []byte, prior *model.SourceFile) loaded {
	digest := blake3.Sum256(src)
	if prior != nil && prior.Size == int64(len(src)) && prior.Digest == digest {
		return loaded{file: prior, unchanged: true}
	}

	toks, diags := b.parser.Parse(path, src)
	file := &model.SourceFile{
		Path:        path,
		Size:        int64(len(src)),
		Digest:      digest,
		Tokens:      toks,
		Diagnostics: diags,
	}
	return loaded{file: file, occs: symbols.Index(path, toks)}
}
