package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/pkg/version"
)

// newProject creates a project directory configured for offline
// providers and isolates HOME and the user config from the host.
func newProject(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("RECALL_TELEMETRY", "")
	t.Setenv("RECALL_EMBEDDER", "")

	dir := t.TempDir()
	cfg := "embeddings:\n  provider: static\nllm:\n  provider: static\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(cfg), 0o644))
	return dir
}

// runCLI executes the root command against dir and returns stdout.
func runCLI(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--dir", dir, "--no-color"}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"ingest", "embed", "retrieve", "answer", "benchmark", "expand", "delete", "status", "doctor", "serve", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestPrintError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name:     "recall error shows code and hint",
			err:      rerrors.New(rerrors.ErrCodeEmptyQuery, "query is empty", nil).WithSuggestion("Pass a query"),
			contains: []string{"Error: query is empty", "Hint: Pass a query", "Code: ERR_404"},
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			contains: []string{"Error: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}

			printError(buf, tt.err)

			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, checkFormat("text"))
	assert.NoError(t, checkFormat("json"))
	assert.True(t, rerrors.IsInput(checkFormat("yaml")))
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{"default", nil, func(t *testing.T, out string) {
			assert.Contains(t, out, "recall")
			assert.Contains(t, out, version.Version)
			assert.Contains(t, out, "commit")
		}},
		{"short", []string{"--short"}, func(t *testing.T, out string) {
			assert.Equal(t, version.Version, strings.TrimSpace(out))
		}},
		{"json", []string{"--json"}, func(t *testing.T, out string) {
			var info version.BuildInfo
			require.NoError(t, json.Unmarshal([]byte(out), &info))
			assert.Equal(t, version.Version, info.Version)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newVersionCmd()
			buf := &bytes.Buffer{}
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			tt.check(t, buf.String())
		})
	}
}

func TestConfigInit_WritesProjectFileAndBacksUp(t *testing.T) {
	// Given: a project with an existing .recall.yaml
	dir := newProject(t)
	path := filepath.Join(dir, config.ProjectFileName)

	// When: init runs without --force
	out, err := runCLI(t, dir, "", "config", "init")

	// Then: the file is kept
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "provider: static")

	// When: init runs with --force
	out, err = runCLI(t, dir, "", "config", "init", "--force")

	// Then: the old file is backed up and the defaults are written
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up to")
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Chunking, cfg.Chunking)
}

func TestConfigShow(t *testing.T) {
	dir := newProject(t)

	t.Run("yaml", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "config", "show")

		require.NoError(t, err)
		assert.Contains(t, out, "min_tokens: 400")
		assert.Contains(t, out, "provider: static")
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "config", "show", "--json")

		require.NoError(t, err)
		var cfg config.Config
		require.NoError(t, json.Unmarshal([]byte(out), &cfg))
		assert.Equal(t, "static", cfg.Embeddings.Provider)
	})
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	dir := newProject(t)
	bad := "chunking:\n  min_tokens: 10\n  max_tokens: 20\n  overlap_tokens: 10\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(bad), 0o644))

	_, err := runCLI(t, dir, "", "config", "show")

	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeChunkParams, rerrors.GetCode(err))
}
