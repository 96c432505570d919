package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/rubydef/internal/discover"
	"github.com/phobologic/rubydef/internal/workspace"
)

func TestDefaultMatchesIndexer(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, []string{discover.DefaultInclude}, cfg.Include)
	assert.Equal(t, int64(workspace.DefaultMaxFileSize), cfg.MaxFileSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"), "")
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `include:
  - "app/**/*.rb"
  - "lib/**/*.rb"
exclude:
  - "**/*_spec.rb"
max_file_size: 2048
watch: true
log_level: debug
`)

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/**/*.rb", "lib/**/*.rb"}, cfg.Include)
	assert.Equal(t, []string{"**/*_spec.rb"}, cfg.Exclude)
	assert.Equal(t, int64(2048), cfg.MaxFileSize)
	assert.True(t, cfg.Watch)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, Default().Workers, cfg.Workers)
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "")
	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "incldue: [\"**/*.rb\"]\n")
	_, err := Load("", dir)
	assert.ErrorContains(t, err, "incldue")
}

func TestLoadValidates(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"glob":  "exclude: [\"[\"]\n",
		"size":  "max_file_size: -1\n",
		"level": "log_level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfig(t, dir, body)
			_, err := Load("", dir)
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644))
}

func TestMarshalLoadsBack(t *testing.T) {
	t.Parallel()

	want := Default()
	want.Exclude = []string{"spec/fixtures/**"}
	want.Watch = true

	data, err := Marshal(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_file_size: 1000000")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))
	got, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
