package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/service"
	"github.com/Aman-CERP/recall/pkg/version"
)

// ServerName is the implementation name announced to MCP clients.
const ServerName = "recall"

// Backend is the service surface the server exposes. *service.Service
// implements it.
type Backend interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResponse, error)
	Retrieve(ctx context.Context, req service.RetrieveRequest) (*service.RetrieveResponse, error)
	Answer(ctx context.Context, req service.AnswerRequest) (*service.AnswerResponse, error)
	Benchmark(ctx context.Context, req service.BenchmarkRequest) (*service.BenchmarkResponse, error)
	Expand(ctx context.Context, req service.ExpandRequest) (*service.ExpandResponse, error)
	Status(ctx context.Context, repair bool) (*service.StatusResponse, error)
}

var _ Backend = (*service.Service)(nil)

// Server is the MCP server for recall.
// It exposes transcript retrieval to AI clients as tools over stdio.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	config  *config.Config
	logger  *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "retrieve",
		Description: "Search podcast and video transcripts for one query. Returns ranked transcript chunks with their document, position and metadata. Supports lexical, vector and hybrid modes and date, source and category filters.",
	},
	{
		Name:        "answer",
		Description: "Answer a question from the transcripts. Complex questions are split into sub-queries, each retrieved separately, and the merged chunks are cited in a short answer. Use this for multi-part questions.",
	},
	{
		Name:        "expand",
		Description: "Fetch the neighbouring chunks of retrieved chunks so a passage can be read in context.",
	},
	{
		Name:        "ingest",
		Description: "Store a transcript. It is cleaned, split into overlapping token windows and embedded. An existing document with the same ID is replaced.",
	},
	{
		Name:        "benchmark",
		Description: "Time one retrieval and capture its query plan. Fails when the plan scans the chunk table or the query exceeds the latency threshold.",
	},
	{
		Name:        "status",
		Description: "Report document and chunk counts, the active embedding and language model providers, and whether the indexes agree with the datastore.",
	},
}

// NewServer creates a new MCP server over backend.
func NewServer(backend Backend, cfg *config.Config) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		backend: backend,
		config:  cfg,
		logger:  slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-style arguments, outside any
// MCP session. It returns the tool's structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "retrieve":
		return call(ctx, args, s.mcpRetrieveHandler)
	case "answer":
		return call(ctx, args, s.mcpAnswerHandler)
	case "expand":
		return call(ctx, args, s.mcpExpandHandler)
	case "ingest":
		return call(ctx, args, s.mcpIngestHandler)
	case "benchmark":
		return call(ctx, args, s.mcpBenchmarkHandler)
	case "status":
		return call(ctx, args, s.mcpStatusHandler)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// call decodes args into In the way the SDK would and runs handler.
func call[In any](ctx context.Context, args map[string]any, handler mcp.ToolHandlerFor[In, any]) (any, error) {
	var in In
	if len(args) > 0 {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	_, out, err := handler(ctx, nil, in)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering_mcp_tools")

	mcp.AddTool(s.mcp, s.tool("retrieve"), s.mcpRetrieveHandler)
	mcp.AddTool(s.mcp, s.tool("answer"), s.mcpAnswerHandler)
	mcp.AddTool(s.mcp, s.tool("expand"), s.mcpExpandHandler)
	mcp.AddTool(s.mcp, s.tool("ingest"), s.mcpIngestHandler)
	mcp.AddTool(s.mcp, s.tool("benchmark"), s.mcpBenchmarkHandler)
	mcp.AddTool(s.mcp, s.tool("status"), s.mcpStatusHandler)

	s.logger.Info("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) tool(name string) *mcp.Tool {
	for _, t := range tools {
		if t.Name == name {
			return &mcp.Tool{Name: t.Name, Description: t.Description}
		}
	}
	panic("mcp: unknown tool " + name)
}

// mcpRetrieveHandler is the MCP SDK handler for the retrieve tool.
func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (*mcp.CallToolResult, any, error) {
	done := s.logStart("retrieve", slog.String("query", input.Query), slog.String("mode", input.Mode))
	resp, err := s.backend.Retrieve(ctx, input.request())
	if err != nil {
		done(err)
		return nil, nil, MapError(err)
	}
	done(nil, slog.Int("result_count", len(resp.Chunks)))
	return textResult(FormatRetrieveResults(resp)), resp, nil
}

// mcpAnswerHandler is the MCP SDK handler for the answer tool.
func (s *Server) mcpAnswerHandler(ctx context.Context, _ *mcp.CallToolRequest, input AnswerInput) (*mcp.CallToolResult, any, error) {
	done := s.logStart("answer", slog.String("question", input.Question))
	resp, err := s.backend.Answer(ctx, input.request())
	if err != nil {
		done(err)
		return nil, nil, MapError(err)
	}
	done(nil,
		slog.Int("sub_queries", len(resp.SubQueries)),
		slog.Int("result_count", len(resp.Chunks)),
		slog.Bool("partial", resp.Partial))
	return textResult(FormatAnswer(resp)), resp, nil
}

// mcpExpandHandler is the MCP SDK handler for the expand tool.
func (s *Server) mcpExpandHandler(ctx context.Context, _ *mcp.CallToolRequest, input ExpandInput) (*mcp.CallToolResult, any, error) {
	done := s.logStart("expand", slog.Int("chunk_ids", len(input.ChunkIDs)))
	resp, err := s.backend.Expand(ctx, service.ExpandRequest{ChunkIDs: input.ChunkIDs, Window: input.Window})
	if err != nil {
		done(err)
		return nil, nil, MapError(err)
	}
	done(nil, slog.Int("result_count", len(resp.Chunks)))
	return textResult(FormatExpand(resp)), resp, nil
}

// mcpIngestHandler is the MCP SDK handler for the ingest tool.
func (s *Server) mcpIngestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (*mcp.CallToolResult, any, error) {
	done := s.logStart("ingest", slog.String("document_id", input.ID))
	req, err := input.request()
	if err != nil {
		done(err)
		return nil, nil, err
	}
	resp, err := s.backend.Ingest(ctx, req)
	if err != nil {
		done(err)
		return nil, nil, MapError(err)
	}
	done(nil, slog.String("document_id", resp.DocumentID), slog.Int("chunks", resp.ChunkCount))
	text := fmt.Sprintf("Stored %s as %s (%d tokens, %d embedded).",
		resp.DocumentID, plural(resp.ChunkCount, "chunk"), resp.TotalTokens, resp.EmbeddingsGenerated)
	if resp.EmbeddingError != "" {
		text += " Embedding failed: " + resp.EmbeddingError
	}
	return textResult(text), resp, nil
}

// mcpBenchmarkHandler is the MCP SDK handler for the benchmark tool.
func (s *Server) mcpBenchmarkHandler(ctx context.Context, _ *mcp.CallToolRequest, input BenchmarkInput) (*mcp.CallToolResult, any, error) {
	done := s.logStart("benchmark", slog.String("query", input.Query))
	resp, err := s.backend.Benchmark(ctx, service.BenchmarkRequest{
		Query:       input.Query,
		Mode:        input.Mode,
		N:           input.N,
		ThresholdMS: input.ThresholdMS,
	})
	if err != nil {
		done(err)
		return nil, nil, MapError(err)
	}
	done(nil, slog.Bool("passed", resp.Passed), slog.Float64("query_time_ms", resp.QueryTimeMS))
	return textResult(FormatBenchmark(resp)), resp, nil
}

// mcpStatusHandler is the MCP SDK handler for the status tool.
func (s *Server) mcpStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, any, error) {
	done := s.logStart("status")
	resp, err := s.backend.Status(ctx, false)
	if err != nil {
		done(err)
		return nil, nil, MapError(err)
	}
	done(nil, slog.Bool("consistent", resp.Consistent))
	return nil, resp, nil
}

// logStart logs a tool call and returns the matching completion logger.
func (s *Server) logStart(tool string, attrs ...any) func(err error, attrs ...any) {
	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info(tool+"_started", append([]any{slog.String("request_id", requestID)}, attrs...)...)

	return func(err error, attrs ...any) {
		base := []any{slog.String("request_id", requestID), slog.Duration("duration", time.Since(start))}
		if err != nil {
			s.logger.Error(tool+"_failed", append(base, slog.String("error", err.Error()))...)
			return
		}
		s.logger.Info(tool+"_completed", append(base, attrs...)...)
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
