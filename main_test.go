package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.lsp.dev/uri"
)

func writeTestFile(t *testing.T, root, rel, content string) {
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

func createSampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "app/models/user.rb", `class User < ApplicationRecord
  ROLES = %w[admin member].freeze
end
`)
	writeTestFile(t, dir, "app/models/post.rb", `class Post
  def author
    User.find(author_id)
  end
end
`)
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	out, _, err := runCLI(t, "", "--version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "rubydef dev\n" {
		t.Errorf("version output: %q", out)
	}
}

func TestSymbolsBasic(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out, stderr, err := runCLI(t, "", "symbols", dir)
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}

	for _, want := range []string{
		"workspace: " + filepath.Base(dir),
		"files[2]{path,declarations,diagnostics,rank}:",
		"symbols[3]{file,name,line,column}:",
		"  app/models/user.rb,User,1,7",
		`  app/models/user.rb,"User::ROLES",2,3`,
		"dependencies[1]{source,target,symbols}:",
		"  app/models/post.rb,app/models/user.rb,User",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	// user.rb is referenced, so it ranks first.
	if i, j := strings.Index(out, "  app/models/user.rb,2,"), strings.Index(out, "  app/models/post.rb,1,"); i < 0 || j < 0 || i > j {
		t.Errorf("expected user.rb ranked before post.rb:\n%s", out)
	}
}

func TestSymbolsMaxFiles(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out, _, err := runCLI(t, "", "symbols", "-n", "1", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "files[1]") {
		t.Errorf("expected 1 file, got:\n%s", out)
	}
	if !strings.Contains(out, "dependencies[0]") {
		t.Errorf("expected no deps, got:\n%s", out)
	}
}

func TestSymbolsNoFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "readme.txt", "nothing here")

	_, _, err := runCLI(t, "", "symbols", dir)
	if err == nil || !strings.Contains(err.Error(), "no Ruby files") {
		t.Errorf("expected no Ruby files error, got %v", err)
	}
}

func TestSymbolsNotADirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "a.rb", "A = 1\n")

	_, _, err := runCLI(t, "", "symbols", filepath.Join(dir, "a.rb"))
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("expected not a directory error, got %v", err)
	}
}

func TestSymbolsMaxFileSize(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	writeTestFile(t, dir, "big.rb", "class Big\n"+strings.Repeat("  # padding\n", 100)+"end\n")

	out, stderr, err := runCLI(t, "", "symbols", "--max-file-size", "500", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out, "big.rb") {
		t.Errorf("big.rb should be skipped:\n%s", out)
	}
	if !strings.Contains(stderr, "skipping file") {
		t.Errorf("expected a warning for big.rb, got stderr:\n%s", stderr)
	}
}

func TestSymbolsCache(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cache := filepath.Join(t.TempDir(), "rubydef-cache")

	first, _, err := runCLI(t, "", "symbols", "--cache", cache, dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(cache)
	if err != nil {
		t.Fatalf("cache not written: %v", err)
	}
	if string(data) != first {
		t.Errorf("cache content differs from output")
	}

	// A fresh cache is printed as is.
	if err := os.WriteFile(cache, []byte("cached\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, _, err := runCLI(t, "", "symbols", "--cache", cache, dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if second != "cached\n" {
		t.Errorf("expected cached output, got:\n%s", second)
	}
}

func TestSymbolsFilterSkipsCache(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cache := filepath.Join(t.TempDir(), "rubydef-cache")
	if err := os.WriteFile(cache, []byte("cached\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, "", "symbols", "--cache", cache, "--symbol", "post", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out == "cached\n" {
		t.Error("filtered output must not come from the cache")
	}
	if !strings.Contains(out, "symbols[1]") || !strings.Contains(out, ",Post,") {
		t.Errorf("expected only Post, got:\n%s", out)
	}
}

func TestSymbolsFileFilter(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out, _, err := runCLI(t, "", "symbols", "--file", "user", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "files[1]") || strings.Contains(out, "  app/models/post.rb,1,") {
		t.Errorf("expected only user.rb, got:\n%s", out)
	}
	if !strings.Contains(out, "dependencies[1]") {
		t.Errorf("edges touching user.rb should be kept:\n%s", out)
	}
}

func TestSymbolsExcludeFlag(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out, _, err := runCLI(t, "", "symbols", "--exclude", "app/models/post.rb", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out, "post.rb") {
		t.Errorf("post.rb should be excluded:\n%s", out)
	}
}

func TestDefinition(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out, stderr, err := runCLI(t, "", "definition", "--root", dir, filepath.Join(dir, "app/models/post.rb"), "3", "5")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	want := "definitions[1]{file,line,column}:\n  " + filepath.Join(dir, "app/models/user.rb") + ",1,7\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestDefinitionNotFound(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out, _, err := runCLI(t, "", "definition", "--root", dir, filepath.Join(dir, "app/models/post.rb"), "1", "7")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// A declaration resolves to itself.
	if !strings.Contains(out, "definitions[1]") {
		t.Errorf("got:\n%s", out)
	}

	out, _, err = runCLI(t, "", "definition", "--root", dir, filepath.Join(dir, "app/models/post.rb"), "2", "3")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "definitions[0]{file,line,column}:\n" {
		t.Errorf("expected no definitions, got %q", out)
	}
}

func TestDefinitionBadArgs(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	post := filepath.Join(dir, "app/models/post.rb")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero line", []string{"definition", "--root", dir, post, "0", "1"}, "line must be a positive integer"},
		{"bad column", []string{"definition", "--root", dir, post, "1", "x"}, "column must be a positive integer"},
		{"outside root", []string{"definition", "--root", filepath.Join(dir, "app"), filepath.Join(t.TempDir(), "a.rb"), "1", "1"}, "not an indexed Ruby file"},
		{"missing args", []string{"definition", post}, "accepts 3 arg(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := runCLI(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestBadLogLevel(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	_, _, err := runCLI(t, "", "symbols", "--log-level", "loud", dir)
	if err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Errorf("expected log level error, got %v", err)
	}
}

func TestExplicitConfig(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cfgPath := filepath.Join(t.TempDir(), "rubydef.yml")
	writeTestFile(t, filepath.Dir(cfgPath), "rubydef.yml", "exclude:\n  - app/models/user.rb\n")

	out, _, err := runCLI(t, "", "symbols", "--config", cfgPath, dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out, "user.rb") {
		t.Errorf("user.rb should be excluded by config:\n%s", out)
	}

	writeTestFile(t, filepath.Dir(cfgPath), "rubydef.yml", "colour: blue\n")
	if _, _, err := runCLI(t, "", "symbols", "--config", cfgPath, dir); err == nil {
		t.Error("expected unknown key error")
	}
}

// frame wraps a JSON-RPC body in LSP base protocol headers.
func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestServeStdio(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	root := string(uri.File(dir))
	post := string(uri.File(filepath.Join(dir, "app/models/post.rb")))

	stdin := frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"`+root+`"}}`) +
		frame(`{"jsonrpc":"2.0","method":"initialized","params":{}}`) +
		frame(`{"jsonrpc":"2.0","id":2,"method":"textDocument/definition","params":{"textDocument":{"uri":"`+post+`"},"position":{"line":2,"character":4}}}`) +
		frame(`{"jsonrpc":"2.0","id":3,"method":"shutdown"}`) +
		frame(`{"jsonrpc":"2.0","method":"exit"}`)

	out, stderr, err := runCLI(t, stdin)
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, `"definitionProvider":true`) {
		t.Errorf("missing capabilities in:\n%s", out)
	}
	if !strings.Contains(out, string(uri.File(filepath.Join(dir, "app/models/user.rb")))) {
		t.Errorf("missing definition location in:\n%s", out)
	}
	if !strings.Contains(out, `"id":3,"result":null`) && !strings.Contains(out, `"result":null,"id":3`) {
		t.Errorf("missing shutdown result in:\n%s", out)
	}
	if !strings.Contains(stderr, "workspace indexed") {
		t.Errorf("expected logs on stderr, got:\n%s", stderr)
	}
}

func TestServeExitWithoutShutdown(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	stdin := frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"`+string(uri.File(dir))+`"}}`) +
		frame(`{"jsonrpc":"2.0","method":"exit"}`)

	var stderr bytes.Buffer
	err := run(context.Background(), nil, strings.NewReader(stdin), &bytes.Buffer{}, &stderr)
	if code := exitCode(err, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if strings.Contains(stderr.String(), "error:") {
		t.Errorf("a plain exit status should not print an error:\n%s", stderr.String())
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	if code := exitCode(nil, &stderr); code != 0 {
		t.Errorf("nil: got %d", code)
	}
	if code := exitCode(fmt.Errorf("wrapped: %w", &exitStatus{code: 3}), &stderr); code != 3 {
		t.Errorf("exit status: got %d", code)
	}
	if stderr.Len() != 0 {
		t.Errorf("unexpected output %q", stderr.String())
	}
	if code := exitCode(errors.New("boom"), &stderr); code != 1 {
		t.Errorf("error: got %d", code)
	}
	if stderr.String() != "error: boom\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}
