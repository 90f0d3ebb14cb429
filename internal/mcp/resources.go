package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/recall/internal/service"
)

// Resource URIs.
const (
	StatusURI         = "recall://status"
	ChunkURITemplate  = "recall://chunk/{id}"
	chunkURIPrefix    = "recall://chunk/"
	resourceMIMEType  = "application/json"
	chunkResourceName = "chunk"
)

// registerResources registers the status resource and the chunk template.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         StatusURI,
			Description: "Datastore counts, active providers and index consistency",
			MIMEType:    resourceMIMEType,
		},
		s.handleStatusResource,
	)
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        chunkResourceName,
			URITemplate: ChunkURITemplate,
			Description: "A transcript chunk with its immediate neighbours",
			MIMEType:    resourceMIMEType,
		},
		s.handleChunkResource,
	)
	s.logger.Debug("mcp_resources_registered", "count", 2)
}

func (s *Server) handleStatusResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	status, err := s.backend.Status(ctx, false)
	if err != nil {
		return nil, MapError(err)
	}
	return jsonResource(StatusURI, status)
}

func (s *Server) handleChunkResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := ""
	if req != nil && req.Params != nil {
		uri = req.Params.URI
	}
	return s.readChunk(ctx, uri)
}

// readChunk resolves recall://chunk/{id} to the chunk and its neighbours.
func (s *Server) readChunk(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	id, err := parseChunkURI(uri)
	if err != nil {
		return nil, err
	}
	resp, err := s.backend.Expand(ctx, service.ExpandRequest{ChunkIDs: []int64{id}})
	if err != nil {
		return nil, MapError(err)
	}
	if len(resp.Missing) > 0 {
		return nil, NewResourceNotFoundError(uri)
	}
	return jsonResource(uri, resp)
}

// parseChunkURI extracts the chunk ID from recall://chunk/{id}.
func parseChunkURI(uri string) (int64, error) {
	raw, ok := strings.CutPrefix(uri, chunkURIPrefix)
	if !ok {
		return 0, NewResourceNotFoundError(uri)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewInvalidParamsError(fmt.Sprintf("invalid chunk id %q", raw))
	}
	return id, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: resourceMIMEType,
				Text:     string(content),
			},
		},
	}, nil
}
