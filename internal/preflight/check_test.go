package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/config"
)

func offlineConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.LLM.Provider = "static"
	return cfg
}

func plentyOfDisk(string) (uint64, error) { return 10 << 30, nil }
func plentyOfFiles() (uint64, error)      { return 65536, nil }

func newTestChecker(t *testing.T, cfg *config.Config, opts ...Option) *Checker {
	t.Helper()
	t.Setenv("RECALL_EMBEDDER", "")
	opts = append([]Option{WithDiskFree(plentyOfDisk), WithFileLimit(plentyOfFiles)}, opts...)
	return New(cfg, t.TempDir(), opts...)
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "disk_space", Status: StatusWarn, Required: true})

	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"disk_space","status":"warn","message":"","required":true}`, string(data))
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestSummary(t *testing.T) {
	pass := CheckResult{Status: StatusPass, Required: true}
	warn := CheckResult{Status: StatusWarn, Required: true}
	optionalFail := CheckResult{Status: StatusFail}
	critical := CheckResult{Status: StatusFail, Required: true}

	tests := []struct {
		name    string
		results []CheckResult
		want    string
	}{
		{"all pass", []CheckResult{pass, pass}, "ready"},
		{"warning", []CheckResult{pass, warn}, "ready_with_warnings"},
		{"optional failure", []CheckResult{pass, optionalFail}, "ready_with_warnings"},
		{"critical failure", []CheckResult{warn, critical}, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.results))
			assert.Equal(t, tt.want == "failed", HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_RunAll_Offline(t *testing.T) {
	// Given: a project using the offline providers
	c := newTestChecker(t, offlineConfig())

	// When: every check runs
	results := c.RunAll(context.Background())

	// Then: nothing critical fails and the static providers warn
	byName := make(map[string]CheckResult, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Len(t, byName, 6)
	assert.False(t, HasCriticalFailures(results))
	assert.Equal(t, StatusPass, byName["data_dir"].Status)
	assert.Equal(t, StatusPass, byName["disk_space"].Status)
	assert.Equal(t, StatusPass, byName["sqlite_fts5"].Status)
	assert.Equal(t, StatusPass, byName["file_descriptors"].Status)
	assert.Equal(t, StatusWarn, byName["embeddings"].Status)
	assert.Equal(t, StatusWarn, byName["llm"].Status)
	assert.Equal(t, "ready_with_warnings", Summary(results))
}

func TestChecker_DataDirNotCreated(t *testing.T) {
	c := newTestChecker(t, offlineConfig())

	r := c.CheckWritePermissions(c.DataDir())

	assert.Equal(t, StatusPass, r.Status)
	assert.Contains(t, r.Details, "will be created under")
	_, err := os.Stat(c.DataDir())
	assert.True(t, os.IsNotExist(err))
}

func TestChecker_DataDirIsAFile(t *testing.T) {
	c := newTestChecker(t, offlineConfig())
	require.NoError(t, os.WriteFile(c.DataDir(), []byte("x"), 0o644))

	r := c.CheckWritePermissions(filepath.Join(c.DataDir(), "nested"))

	assert.True(t, r.IsCritical())
	assert.Contains(t, r.Message, "not a directory")
}

func TestChecker_DiskSpace(t *testing.T) {
	tests := []struct {
		name   string
		free   func(string) (uint64, error)
		status CheckStatus
		msg    string
	}{
		{"enough", plentyOfDisk, StatusPass, "10 GiB free"},
		{"too little", func(string) (uint64, error) { return 5 << 20, nil }, StatusFail, "5.0 MiB free (minimum: 100 MiB)"},
		{"probe error", func(string) (uint64, error) { return 0, errors.New("statfs boom") }, StatusFail, "statfs boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(t, offlineConfig(), WithDiskFree(tt.free))

			r := c.CheckDiskSpace(c.DataDir())

			assert.Equal(t, tt.status, r.Status)
			assert.Contains(t, r.Message, tt.msg)
		})
	}
}

func TestChecker_FileDescriptors(t *testing.T) {
	low := func() (uint64, error) { return 256, nil }

	t.Run("sqlite backend only warns", func(t *testing.T) {
		c := newTestChecker(t, offlineConfig(), WithFileLimit(low))

		r := c.CheckFileDescriptors()

		assert.Equal(t, StatusWarn, r.Status)
		assert.False(t, r.IsCritical())
	})

	t.Run("bleve backend requires it", func(t *testing.T) {
		cfg := offlineConfig()
		cfg.Retrieval.LexicalBackend = "bleve"
		c := newTestChecker(t, cfg, WithFileLimit(low))

		r := c.CheckFileDescriptors()

		assert.True(t, r.IsCritical())
		assert.Contains(t, r.Details, "ulimit")
	})
}

func TestChecker_ProviderFailures(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := offlineConfig()
	cfg.LLM.Provider = "anthropic"
	c := newTestChecker(t, cfg)

	r := c.CheckLLM()

	assert.True(t, r.IsCritical())
	assert.Contains(t, r.Message, "ANTHROPIC_API_KEY")
}

func TestChecker_OpenAIEmbeddings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := offlineConfig()
	cfg.Embeddings.Provider = "openai"
	c := newTestChecker(t, cfg)

	r := c.CheckEmbeddings()

	assert.Equal(t, StatusPass, r.Status)
	assert.Contains(t, r.Message, "text-embedding-3-small")
}
