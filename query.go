package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/phobologic/rubydef/internal/discover"
	"github.com/phobologic/rubydef/internal/graph"
	"github.com/phobologic/rubydef/internal/index"
	"github.com/phobologic/rubydef/internal/lsp"
	"github.com/phobologic/rubydef/internal/parse"
	"github.com/phobologic/rubydef/internal/ranking"
	"github.com/phobologic/rubydef/internal/resolve"
	"github.com/phobologic/rubydef/internal/toon"
	"github.com/phobologic/rubydef/internal/workspace"
)

func newSymbolsCmd(g *globals) *cobra.Command {
	var (
		maxFiles   int
		cachePath  string
		symbolFlag string
		fileFlag   string
	)

	cmd := &cobra.Command{
		Use:   "symbols [root...]",
		Short: "Print the workspace's files, constants and dependencies in TOON",
		Long: `Index the roots (default: the working directory) and print a map of the
workspace: files ranked by how often other files reference them, every
declared constant with its position, and the file dependency edges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup(cmd)
			if err != nil {
				return err
			}
			roots, err := resolveRoots(args)
			if err != nil {
				return err
			}

			opts := workspaceOptions(cfg, log)
			filtered := symbolFlag != "" || fileFlag != ""
			useCache := cachePath != "" && !filtered
			if useCache && cacheIsFresh(cachePath, roots, opts.Discover) {
				if data, err := os.ReadFile(cachePath); err == nil {
					_, _ = cmd.OutOrStdout().Write(data)
					return nil
				}
			}

			ix := index.New()
			b := workspace.New(parse.NewRuby(), ix, opts)
			stats, err := b.IndexRoots(cmd.Context(), roots)
			if err != nil {
				return err
			}
			if stats.Files == 0 {
				return fmt.Errorf("no Ruby files found")
			}

			snap := graph.Snapshot(filepath.Base(roots[0]), roots, ix, resolve.New(ix))
			if symbolFlag != "" {
				snap = ranking.FilterBySymbol(snap, symbolFlag)
			}
			if fileFlag != "" {
				snap = ranking.FilterByFile(snap, fileFlag)
			}
			snap = ranking.SelectFiles(snap, maxFiles)

			output := toon.Encode(snap) + "\n"
			if useCache {
				if err := os.WriteFile(cachePath, []byte(output), 0o644); err != nil {
					log.Warn("writing cache", "path", cachePath, "err", err)
				}
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), output)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&maxFiles, "max-files", "n", 0, "maximum number of files to include")
	f.StringVar(&cachePath, "cache", "", "cache file path")
	f.StringVarP(&symbolFlag, "symbol", "s", "", "only constants whose name contains this text")
	f.StringVarP(&fileFlag, "file", "f", "", "only files whose path contains this text")
	return cmd
}

func newDefinitionCmd(g *globals) *cobra.Command {
	var rootFlag string

	cmd := &cobra.Command{
		Use:   "definition FILE LINE COLUMN",
		Short: "Resolve the constant at a position and print its declarations",
		Long: `Index the workspace root and print where the constant under FILE:LINE:COLUMN
is declared. LINE and COLUMN are 1-based, as shown by editors.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup(cmd)
			if err != nil {
				return err
			}
			file, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving file: %w", err)
			}
			line, err := position(args[1], "line")
			if err != nil {
				return err
			}
			col, err := position(args[2], "column")
			if err != nil {
				return err
			}

			var rootArgs []string
			if rootFlag != "" {
				rootArgs = []string{rootFlag}
			}
			roots, err := resolveRoots(rootArgs)
			if err != nil {
				return err
			}

			opts := workspaceOptions(cfg, log)
			if !discover.Accept(roots[0], file, opts.Discover) {
				return fmt.Errorf("%s: not an indexed Ruby file under %s", file, roots[0])
			}
			srv := lsp.New(parse.NewRuby(), lsp.Options{Workspace: opts, Logger: log})
			if err := srv.Open(cmd.Context(), roots); err != nil {
				return err
			}
			locs := srv.Definition(file, line, col)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), toon.EncodeLocations(locs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&rootFlag, "root", "r", "", "workspace root (default: the working directory)")
	return cmd
}

// position parses a 1-based command-line position into a 0-based one.
func position(arg, name string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, arg)
	}
	return n - 1, nil
}

// cacheIsFresh reports whether every discovered file is older than the cache.
func cacheIsFresh(cachePath string, roots []string, opts discover.Options) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return false
	}
	cacheMtime := cacheInfo.ModTime()

	for entry := range discover.Walk(roots, opts) {
		fi, err := os.Stat(entry.Path)
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}
	return true
}
