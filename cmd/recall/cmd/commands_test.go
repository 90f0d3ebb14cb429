package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/service"
)

// ingestCorpus stores three short episodes through the CLI.
func ingestCorpus(t *testing.T, dir string) {
	t.Helper()
	episodes := []struct {
		id, source, category, published, text string
	}{
		{"ep-1", "podcast-a", "ai", "2024-01-10", "Neural networks learn representations from data. They power modern speech recognition."},
		{"ep-2", "podcast-b", "bio", "2023-05-01", "Protein folding was solved by deep learning methods. Biology changed overnight."},
		{"ep-3", "podcast-a", "gardening", "2022-07-15", "The host talked about gardening and tomatoes in the summer."},
	}
	for _, ep := range episodes {
		path := filepath.Join(t.TempDir(), ep.id+".txt")
		require.NoError(t, os.WriteFile(path, []byte(ep.text), 0o644))
		_, err := runCLI(t, dir, "", "ingest", path,
			"--id", ep.id, "--source", ep.source, "--category", ep.category, "--published", ep.published)
		require.NoError(t, err)
	}
}

func retrieveJSON(t *testing.T, dir string, args ...string) service.RetrieveResponse {
	t.Helper()
	out, err := runCLI(t, dir, "", append([]string{"retrieve", "--format", "json"}, args...)...)
	require.NoError(t, err)
	var resp service.RetrieveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestIngestCmd(t *testing.T) {
	dir := newProject(t)
	path := filepath.Join(t.TempDir(), "episode-12.txt")
	require.NoError(t, os.WriteFile(path, []byte("Scaling laws predict loss from compute."), 0o644))

	t.Run("file with metadata", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "ingest", path, "--id", "ep-12", "--meta", "guest=Hinton", "--format", "json")

		require.NoError(t, err)
		var resp service.IngestResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ep-12", resp.DocumentID)
		assert.Equal(t, 1, resp.ChunkCount)
		assert.Equal(t, 1, resp.EmbeddingsGenerated)
		assert.False(t, resp.Replaced)
	})

	t.Run("stdin replaces existing id", func(t *testing.T) {
		out, err := runCLI(t, dir, "Scaling laws were revisited.", "ingest", "-", "--id", "ep-12")

		require.NoError(t, err)
		assert.Contains(t, out, "Replaced ep-12: 1 chunks")
	})

	t.Run("title defaults to file name", func(t *testing.T) {
		_, err := runCLI(t, dir, "", "ingest", path, "--id", "ep-13")
		require.NoError(t, err)

		resp := retrieveJSON(t, dir, "scaling", "--mode", "lexical")
		var titles []any
		for _, c := range resp.Chunks {
			if c.DocID == "ep-13" {
				titles = append(titles, c.Metadata["title"])
			}
		}
		assert.Equal(t, []any{"episode-12"}, titles)
	})

	t.Run("bad published date", func(t *testing.T) {
		_, err := runCLI(t, dir, "", "ingest", path, "--published", "last tuesday")

		assert.True(t, rerrors.IsInput(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runCLI(t, dir, "", "ingest", filepath.Join(dir, "nope.txt"))

		assert.True(t, rerrors.IsInput(err))
	})
}

func TestRetrieveCmd_Text(t *testing.T) {
	// Given: an ingested corpus
	dir := newProject(t)
	ingestCorpus(t, dir)

	// When: retrieving lexically
	out, err := runCLI(t, dir, "", "retrieve", "protein", "folding", "--mode", "lexical")

	// Then: the matching chunk is rendered with its metadata
	require.NoError(t, err)
	assert.Contains(t, out, `Results for "protein folding"`)
	assert.Contains(t, out, "[1] ep-2 #0")
	assert.Contains(t, out, "source: podcast-b")
	assert.Contains(t, out, "  | Protein folding was solved")
	assert.Contains(t, out, "lexical mode")
}

func TestRetrieveCmd_NoMatch(t *testing.T) {
	dir := newProject(t)
	ingestCorpus(t, dir)

	out, err := runCLI(t, dir, "", "retrieve", "quasar", "--mode", "lexical")

	require.NoError(t, err)
	assert.Contains(t, out, `No chunks found for "quasar"`)
}

func TestRetrieveCmd_Filters(t *testing.T) {
	dir := newProject(t)
	ingestCorpus(t, dir)
	query := []string{"networks folding gardening", "--mode", "lexical", "--operator", "or"}

	tests := []struct {
		name     string
		args     []string
		wantDocs []string
		applied  []string
	}{
		{"source", []string{"--source", "podcast-a"}, []string{"ep-1", "ep-3"}, []string{"source"}},
		{"categories any", []string{"--category", "bio", "--category", "gardening"}, []string{"ep-2", "ep-3"}, []string{"category"}},
		{"date range", []string{"--from", "2023-01-01", "--to", "2023-12-31"}, []string{"ep-2"}, []string{"from", "to"}},
		{"any of source or category", []string{"--source", "podcast-b", "--category", "gardening", "--filter-mode", "any"}, []string{"ep-2", "ep-3"}, []string{"source", "category"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := retrieveJSON(t, dir, append(query, tt.args...)...)

			var docs []string
			for _, c := range resp.Chunks {
				docs = append(docs, c.DocID)
			}
			assert.ElementsMatch(t, tt.wantDocs, docs)
			assert.Equal(t, tt.applied, resp.QueryInfo.FiltersApplied)
		})
	}
}

func TestRetrieveCmd_Errors(t *testing.T) {
	dir := newProject(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"bad mode", []string{"retrieve", "x", "--mode", "fuzzy"}, rerrors.ErrCodeInvalidMode},
		{"bad date", []string{"retrieve", "x", "--from", "yesterday"}, rerrors.ErrCodeInvalidFilter},
		{"bad format", []string{"retrieve", "x", "--format", "yaml"}, rerrors.ErrCodeInvalidInput},
		{"blank query", []string{"retrieve", " "}, rerrors.ErrCodeEmptyQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, dir, "", tt.args...)

			require.Error(t, err)
			assert.Equal(t, tt.code, rerrors.GetCode(err))
		})
	}
}

func TestAnswerCmd(t *testing.T) {
	dir := newProject(t)
	ingestCorpus(t, dir)

	t.Run("json", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "answer", "How was protein folding solved?",
			"--mode", "lexical", "--operator", "or", "--format", "json")

		require.NoError(t, err)
		var resp service.AnswerResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.NotEmpty(t, resp.SubQueries)
		require.NotEmpty(t, resp.Chunks)
		assert.Equal(t, "ep-2", resp.Chunks[0].DocID)
		assert.False(t, resp.Partial)
	})

	t.Run("text without synthesis", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "answer", "How was protein folding solved?",
			"--mode", "lexical", "--operator", "or", "--no-synthesis")

		require.NoError(t, err)
		assert.Contains(t, out, "How was protein folding solved?")
		assert.Contains(t, out, "sub-query 1")
		assert.Contains(t, out, "ep-2 #0")
	})

	t.Run("too many sub-queries", func(t *testing.T) {
		_, err := runCLI(t, dir, "", "answer", "q", "--max-sub-queries", "11")

		assert.True(t, rerrors.IsInput(err))
	})
}

func TestBenchmarkCmd(t *testing.T) {
	dir := newProject(t)
	ingestCorpus(t, dir)

	t.Run("pass", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "benchmark", "neural networks", "--threshold-ms", "10000")

		require.NoError(t, err)
		assert.Contains(t, out, `Benchmark "neural networks"`)
		assert.Contains(t, out, "PASS")
	})

	t.Run("profiles", func(t *testing.T) {
		profDir := t.TempDir()
		cpu := filepath.Join(profDir, "cpu.out")
		mem := filepath.Join(profDir, "mem.out")

		_, err := runCLI(t, dir, "", "benchmark", "neural networks", "--threshold-ms", "10000",
			"--cpu-profile", cpu, "--mem-profile", mem, "--format", "json")

		require.NoError(t, err)
		assert.FileExists(t, cpu)
		assert.FileExists(t, mem)
	})

	t.Run("suite", func(t *testing.T) {
		suite := filepath.Join(t.TempDir(), "suite.yaml")
		yaml := `name: smoke
k: 5
cases:
  - id: folding
    query: protein folding
    mode: lexical
    expected_documents: [ep-2]
  - id: networks
    query: neural networks
    mode: lexical
    expected_documents: [ep-1]
`
		require.NoError(t, os.WriteFile(suite, []byte(yaml), 0o644))

		out, err := runCLI(t, dir, "", "benchmark", "--suite", suite)

		require.NoError(t, err)
		assert.Contains(t, out, "Suite smoke")
		assert.Contains(t, out, "passed:          2/2")
	})

	t.Run("needs a query", func(t *testing.T) {
		_, err := runCLI(t, dir, "", "benchmark")

		assert.True(t, rerrors.IsInput(err))
	})
}

func TestExpandCmd(t *testing.T) {
	dir := newProject(t)
	ingestCorpus(t, dir)
	resp := retrieveJSON(t, dir, "protein folding", "--mode", "lexical")
	require.Len(t, resp.Chunks, 1)
	id := resp.Chunks[0].ChunkID

	t.Run("existing and missing ids", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "expand", fmt.Sprint(id), "99999", "--format", "json")

		require.NoError(t, err)
		var got service.ExpandResponse
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.Len(t, got.Chunks, 1)
		assert.Equal(t, id, got.Chunks[0].ChunkID)
		assert.Equal(t, []int64{99999}, got.Missing)
	})

	t.Run("text", func(t *testing.T) {
		out, err := runCLI(t, dir, "", "expand", fmt.Sprint(id), "99999")

		require.NoError(t, err)
		assert.Contains(t, out, "Missing chunk IDs: 99999")
		assert.Contains(t, out, "ep-2 #0")
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := runCLI(t, dir, "", "expand", "abc")

		assert.True(t, rerrors.IsInput(err))
	})
}

func TestParseChunkIDs(t *testing.T) {
	ids, err := parseChunkIDs([]string{"3", "10"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 10}, ids)

	_, err = parseChunkIDs([]string{"0"})
	assert.True(t, rerrors.IsInput(err))
}

func TestDeleteAndStatusCmd(t *testing.T) {
	// Given: an ingested corpus
	dir := newProject(t)
	ingestCorpus(t, dir)

	// When: deleting one document
	out, err := runCLI(t, dir, "", "delete", "ep-1")

	// Then: it is gone and the indexes still agree
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted ep-1 (1 chunks)")

	out, err = runCLI(t, dir, "", "status", "--format", "json")
	require.NoError(t, err)
	var status service.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 2, status.Documents)
	assert.Equal(t, 2, status.Chunks)
	assert.Equal(t, 2, status.VectorNodes)
	assert.True(t, status.Consistent)

	// And: deleting it again reports not found
	_, err = runCLI(t, dir, "", "delete", "ep-1")
	assert.Equal(t, rerrors.ErrCodeDocumentNotFound, rerrors.GetCode(err))
}

func TestStatusCmd_TextAndEmbed(t *testing.T) {
	dir := newProject(t)
	path := filepath.Join(t.TempDir(), "ep.txt")
	require.NoError(t, os.WriteFile(path, []byte("Lexical only for now."), 0o644))
	_, err := runCLI(t, dir, "", "ingest", path, "--no-embed")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "documents:       1")
	assert.Contains(t, out, "1 chunks without embeddings")

	out, err = runCLI(t, dir, "", "embed")
	require.NoError(t, err)
	assert.Contains(t, out, "Embedded 1 chunks")

	out, err = runCLI(t, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexes consistent")
	assert.NotContains(t, out, "without embeddings")
}

func TestStatusCmd_ShowsQueryTelemetry(t *testing.T) {
	// Given: a corpus queried once with a hit and once without
	dir := newProject(t)
	ingestCorpus(t, dir)
	_, err := runCLI(t, dir, "", "retrieve", "neural networks", "--mode", "lexical")
	require.NoError(t, err)
	_, err = runCLI(t, dir, "", "retrieve", "quasar", "--mode", "lexical")
	require.NoError(t, err)

	// When: status runs in a later process
	out, err := runCLI(t, dir, "", "status")

	// Then: the stored telemetry is reported
	require.NoError(t, err)
	assert.Contains(t, out, "Queries")
	assert.Contains(t, out, "served:          2")
	assert.Contains(t, out, "lexical:         2")
	assert.Contains(t, out, "zero results:    1 (50.0%)")
	assert.Contains(t, out, `no results: "quasar"`)
}

func TestDoctorCmd(t *testing.T) {
	t.Run("offline providers warn", func(t *testing.T) {
		dir := newProject(t)

		out, err := runCLI(t, dir, "", "doctor", "--format", "json")

		require.NoError(t, err)
		var report doctorReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "ready_with_warnings", report.Status)
		require.NotEmpty(t, report.Checks)
		assert.Equal(t, "config", report.Checks[0].Name)
	})

	t.Run("text output", func(t *testing.T) {
		dir := newProject(t)

		out, err := runCLI(t, dir, "", "doctor")

		require.NoError(t, err)
		assert.Contains(t, out, "sqlite_fts5: OK")
		assert.Contains(t, out, "llm: static")
		assert.Contains(t, out, "READY_WITH_WARNINGS")
	})

	t.Run("invalid config fails", func(t *testing.T) {
		dir := newProject(t)
		bad := "retrieval:\n  lexical_backend: lucene\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(bad), 0o644))

		out, err := runCLI(t, dir, "", "doctor")

		require.ErrorIs(t, err, errDoctorFailed)
		assert.Contains(t, out, "config:")
		assert.Contains(t, out, "FAILED")
	})
}
