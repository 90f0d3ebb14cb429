// Package mcp implements the Model Context Protocol (MCP) server for recall.
package mcp

import (
	"context"
	"errors"
	"fmt"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Custom MCP error codes for recall.
const (
	// ErrCodeDocumentNotFound indicates the named document does not exist.
	ErrCodeDocumentNotFound = -32001

	// ErrCodeCapabilityUnavailable indicates the embedding or language
	// model provider could not be reached.
	ErrCodeCapabilityUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeRetrievalUnavailable indicates the datastore could not serve
	// the read. It is distinct from an empty result.
	ErrCodeRetrievalUnavailable = -32004

	// ErrCodeLocked indicates another process holds the ingest lock.
	ErrCodeLocked = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
// RecallCode carries the ERR_NXX code when the cause was a RecallError.
type MCPError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	RecallCode string `json:"recall_code,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	if e.RecallCode != "" {
		return fmt.Sprintf("MCP error %d (%s): %s", e.Code, e.RecallCode, e.Message)
	}
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
// It maps known error types to appropriate MCP error codes and messages.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	// Context errors first: a RecallError may wrap a deadline.
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out.", Retryable: true}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var re *rerrors.RecallError
	if errors.As(err, &re) {
		return mapRecallError(re)
	}

	switch {
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Resource not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapRecallError converts a RecallError to an MCPError.
func mapRecallError(re *rerrors.RecallError) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", re.Message, re.Suggestion)
	}
	out := &MCPError{Message: message, RecallCode: re.Code, Retryable: re.Retryable}

	switch re.Category {
	case rerrors.CategoryInput:
		out.Code = ErrCodeInvalidParams
	case rerrors.CategoryStorage:
		switch re.Code {
		case rerrors.ErrCodeDocumentNotFound:
			out.Code = ErrCodeDocumentNotFound
		case rerrors.ErrCodeLocked:
			out.Code = ErrCodeLocked
		default:
			out.Code = ErrCodeInternalError
		}
	case rerrors.CategoryUnavailable:
		if re.Code == rerrors.ErrCodeRetrievalUnavailable {
			out.Code = ErrCodeRetrievalUnavailable
		} else {
			out.Code = ErrCodeCapabilityUnavailable
		}
	default: // config, internal and unknown
		out.Code = ErrCodeInternalError
	}
	return out
}
