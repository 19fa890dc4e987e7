// Package mcp exposes the search engine as a Model Context Protocol tool
// server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ragerrors "github.com/gravis-app/ragcore/internal/errors"
)

// JSON-RPC error codes. The -3200x range is application specific.
const (
	ErrCodeCorpusNotReady = -32001
	ErrCodeTimeout        = -32003

	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrCorpusNotReady is returned before the first snapshot is published.
var ErrCorpusNotReady = errors.New("corpus not loaded")

// MCPError is a protocol-level error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if re, ok := ragerrors.As(err); ok {
		return mapRagError(re)
	}

	switch {
	case errors.Is(err, ErrCorpusNotReady):
		return &MCPError{Code: ErrCodeCorpusNotReady, Message: "Corpus not loaded. Run 'ragcore ingest' first."}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapRagError(re *ragerrors.RagError) *MCPError {
	msg := re.Message
	if re.Suggestion != "" {
		msg = re.Message + " " + re.Suggestion
	}
	switch re.Category {
	case ragerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case ragerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}
