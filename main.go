// rubydef is a go-to-definition language server for Ruby constants.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phobologic/rubydef/internal/config"
	"github.com/phobologic/rubydef/internal/discover"
	"github.com/phobologic/rubydef/internal/lsp"
	"github.com/phobologic/rubydef/internal/parse"
	"github.com/phobologic/rubydef/internal/workspace"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

// exitStatus ends the process with a code and no message.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var status *exitStatus
	if errors.As(err, &status) {
		return status.code
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

// globals holds the flags shared by every command.
type globals struct {
	configPath  string
	logLevel    string
	include     []string
	exclude     []string
	maxFileSize int64
	workers     int

	stdin          io.Reader
	stdout, stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCmd(&globals{stdin: stdin, stdout: stdout, stderr: stderr})
	if args == nil {
		args = []string{} // cobra falls back to os.Args on nil
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(g *globals) *cobra.Command {
	var watch bool
	serveE := func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := g.setup(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("watch") {
			cfg.Watch = watch
		}
		return g.serve(cmd.Context(), cfg, log)
	}

	root := &cobra.Command{
		Use:   "rubydef",
		Short: "Go-to-definition language server for Ruby constants",
		Long: `rubydef indexes the classes, modules and constants of a Ruby workspace
and answers textDocument/definition over the Language Server Protocol.

Without a subcommand it serves LSP on stdin/stdout. Logs go to stderr.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveE,
	}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve LSP on stdin/stdout (the default)",
		Args:  cobra.NoArgs,
		RunE:  serveE,
	}
	root.SetIn(g.stdin)
	root.SetOut(g.stdout)
	root.SetErr(g.stderr)
	root.SetVersionTemplate("rubydef {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file (default ./"+config.FileName+" if present)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringSliceVar(&g.include, "include", nil, "glob of files to index (repeatable)")
	pf.StringSliceVar(&g.exclude, "exclude", nil, "glob of files to skip (repeatable)")
	pf.Int64Var(&g.maxFileSize, "max-file-size", workspace.DefaultMaxFileSize, "skip files larger than this many bytes")
	pf.IntVarP(&g.workers, "workers", "j", 0, "parallel parses while indexing (default GOMAXPROCS)")
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().BoolVarP(&watch, "watch", "w", false, "re-index files changed outside the editor")
	}

	root.AddCommand(serve, newSymbolsCmd(g), newDefinitionCmd(g), newInitCmd(g))
	return root
}

// setup loads the config file, applies flag overrides and builds the logger.
func (g *globals) setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("working directory: %w", err)
	}
	cfg, err := config.Load(g.configPath, wd)
	if err != nil {
		return cfg, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("include") {
		cfg.Include = g.include
	}
	if flags.Changed("exclude") {
		cfg.Exclude = g.exclude
	}
	if flags.Changed("max-file-size") {
		cfg.MaxFileSize = g.maxFileSize
	}
	if flags.Changed("workers") {
		cfg.Workers = g.workers
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	log := slog.New(slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: level}))
	return cfg, log, nil
}

func workspaceOptions(cfg config.Config, log *slog.Logger) workspace.Options {
	return workspace.Options{
		Discover: discover.Options{
			Include: cfg.Include,
			Exclude: cfg.Exclude,
			Logger:  log,
		},
		MaxFileSize: cfg.MaxFileSize,
		Workers:     cfg.Workers,
		Logger:      log,
	}
}

// stdio joins the process streams into one connection.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

func (g *globals) serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	srv := lsp.New(parse.NewRuby(), lsp.Options{
		Workspace: workspaceOptions(cfg, log),
		Watch:     cfg.Watch,
		Version:   version,
		Logger:    log,
	})
	log.Info("serving", "version", version, "watch", cfg.Watch)

	code, err := srv.Serve(ctx, stdio{Reader: g.stdin, Writer: g.stdout})
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if code != 0 {
		return &exitStatus{code: code}
	}
	return nil
}

// resolveRoots turns root arguments into absolute directories. No
// arguments means the working directory.
func resolveRoots(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	roots := make([]string, 0, len(args))
	for _, arg := range args {
		root, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving root: %w", err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("root path: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s: not a directory", root)
		}
		roots = append(roots, root)
	}
	return roots, nil
}
