package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// isolate points the user config at an empty temp dir and clears RECALL_* vars.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"RECALL_LEXICAL_WEIGHT", "RECALL_VECTOR_WEIGHT", "RECALL_LEXICAL_BACKEND",
		"RECALL_EMBEDDINGS_PROVIDER", "RECALL_EMBEDDINGS_MODEL", "RECALL_LLM_PROVIDER",
		"RECALL_LLM_MODEL", "RECALL_STORE_PATH", "RECALL_MAX_SUB_QUERIES", "RECALL_LOG_LEVEL",
		"RECALL_TELEMETRY",
	} {
		t.Setenv(k, "")
	}
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 400, cfg.Chunking.MinTokens)
	assert.Equal(t, 800, cfg.Chunking.MaxTokens)
	assert.Equal(t, 50, cfg.Chunking.OverlapTokens)
	assert.Equal(t, 50, cfg.Retrieval.DefaultN)
	assert.Equal(t, 200, cfg.Retrieval.MaxN)
	assert.Equal(t, "sqlite", cfg.Retrieval.LexicalBackend)
	assert.InDelta(t, 0.5, cfg.Retrieval.LexicalWeight, 1e-9)
	assert.InDelta(t, 0.5, cfg.Retrieval.VectorWeight, 1e-9)
	assert.Equal(t, 4, cfg.MultiQuery.MaxSubQueries)
	assert.InDelta(t, 50.0, cfg.Benchmark.ThresholdMS, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	yaml := `
chunking:
  min_tokens: 100
  max_tokens: 200
  overlap_tokens: 10
retrieval:
  lexical_backend: bleve
  lexical_weight: 0.7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(yaml), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Chunking.MinTokens)
	assert.Equal(t, 200, cfg.Chunking.MaxTokens)
	assert.Equal(t, 10, cfg.Chunking.OverlapTokens)
	assert.Equal(t, "bleve", cfg.Retrieval.LexicalBackend)
	assert.InDelta(t, 0.7, cfg.Retrieval.LexicalWeight, 1e-9)
	// untouched
	assert.InDelta(t, 0.5, cfg.Retrieval.VectorWeight, 1e-9)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".recall.yml"), []byte("retrieval:\n  default_n: 20\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Retrieval.DefaultN)
}

func TestLoad_UserConfig_ProjectWins(t *testing.T) {
	isolate(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "recall"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "recall", "config.yaml"),
		[]byte("retrieval:\n  default_n: 30\n  max_n: 150\n"), 0o644))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("retrieval:\n  default_n: 40\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Retrieval.DefaultN)
	assert.Equal(t, 150, cfg.Retrieval.MaxN)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("chunking: [unclosed"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeConfigInvalid, rerrors.GetCode(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RECALL_LEXICAL_WEIGHT", "0")
	t.Setenv("RECALL_VECTOR_WEIGHT", "1")
	t.Setenv("RECALL_LLM_PROVIDER", "anthropic")
	t.Setenv("RECALL_MAX_SUB_QUERIES", "not-a-number")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Zero(t, cfg.Retrieval.LexicalWeight)
	assert.InDelta(t, 1.0, cfg.Retrieval.VectorWeight, 1e-9)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.MultiQuery.MaxSubQueries)
}

func TestLoad_TelemetrySwitch(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		env      string
		disabled bool
	}{
		{"default on", "", "", false},
		{"disabled in yaml", "telemetry:\n  disabled: true\n", "", true},
		{"env turns it off", "", "false", true},
		{"env turns it back on", "telemetry:\n  disabled: true\n", "1", false},
		{"malformed env ignored", "", "sometimes", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := t.TempDir()
			if tt.yaml != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(tt.yaml), 0o644))
			}
			t.Setenv("RECALL_TELEMETRY", tt.env)

			cfg, err := Load(dir)

			require.NoError(t, err)
			assert.Equal(t, tt.disabled, cfg.Telemetry.Disabled)
			assert.Equal(t, time.Minute, cfg.TelemetryFlushInterval())
		})
	}
}

func TestLoad_DotEnv_SetsUnsetVariables(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RECALL_LLM_MODEL=from-dotenv\n"), 0o644))
	// godotenv.Load sets variables process-wide; restore after the test.
	t.Cleanup(func() { _ = os.Unsetenv("RECALL_LLM_MODEL") })
	require.NoError(t, os.Unsetenv("RECALL_LLM_MODEL"))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.LLM.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"overlap equals min", func(c *Config) { c.Chunking.OverlapTokens = 400 }, rerrors.ErrCodeChunkParams},
		{"min above max", func(c *Config) { c.Chunking.MinTokens = 900 }, rerrors.ErrCodeChunkParams},
		{"zero max", func(c *Config) { c.Chunking.MaxTokens = 0 }, rerrors.ErrCodeChunkParams},
		{"negative weight", func(c *Config) { c.Retrieval.LexicalWeight = -1 }, rerrors.ErrCodeFusionWeights},
		{"both weights zero", func(c *Config) { c.Retrieval.LexicalWeight, c.Retrieval.VectorWeight = 0, 0 }, rerrors.ErrCodeFusionWeights},
		{"unknown backend", func(c *Config) { c.Retrieval.LexicalBackend = "lucene" }, rerrors.ErrCodeConfigInvalid},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "cohere" }, rerrors.ErrCodeConfigInvalid},
		{"bad timeout", func(c *Config) { c.Retrieval.Timeout = "soon" }, rerrors.ErrCodeConfigInvalid},
		{"default above max", func(c *Config) { c.Retrieval.DefaultN = 500 }, rerrors.ErrCodeConfigInvalid},
		{"bad flush interval", func(c *Config) { c.Telemetry.FlushInterval = "hourly" }, rerrors.ErrCodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Equal(t, tt.code, rerrors.GetCode(err))
			assert.True(t, rerrors.IsFatal(err))
		})
	}
}

func TestValidate_UnequalWeightsAllowed(t *testing.T) {
	cfg := NewConfig()
	cfg.Retrieval.LexicalWeight = 0.9
	cfg.Retrieval.VectorWeight = 0.3

	assert.NoError(t, cfg.Validate())
}

func TestFindProjectRoot(t *testing.T) {
	t.Run("finds config marker in parent", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, ProjectFileName), nil, 0o644))
		nested := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0o755))

		got, err := FindProjectRoot(nested)

		require.NoError(t, err)
		assert.Equal(t, root, got)
	})

	t.Run("finds git dir", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

		got, err := FindProjectRoot(root)

		require.NoError(t, err)
		assert.Equal(t, root, got)
	})
}

func TestStorePath(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, filepath.Join("/proj", ".recall", "recall.db"), cfg.StorePath("/proj"))

	cfg.Store.Path = "/abs/db.sqlite"
	assert.Equal(t, "/abs/db.sqlite", cfg.StorePath("/proj"))
}

func TestBackup_KeepsNewestThree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectFileName)

	got, err := Backup(path)
	require.NoError(t, err)
	assert.Empty(t, got, "missing file has nothing to back up")

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	for i := 0; i < 5; i++ {
		got, err = Backup(path)
		require.NoError(t, err)
		assert.FileExists(t, got)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, got, backups[0])
}
