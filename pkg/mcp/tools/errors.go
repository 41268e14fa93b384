// Package tools provides the MCP tool surface of the lineage engine.
package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results. Actionable
// errors come back as successful tool results carrying this payload, so the
// caller sees what to fix instead of an opaque protocol failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors the caller can fix (invalid
// parameters, resource not found). System failures should still return Go
// errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// Error codes shared across tools.
const (
	codeNotFound            = "not_found"
	codeInvalidArgument     = "invalid_argument"
	codeCatalogUnavailable  = "catalog_unavailable"
	codePermission          = "permission_insufficient"
	codeInvalidParameters   = "invalid_parameters"
	codeUnrecognizedRequest = "unrecognized_request"
)

// MapServiceError converts a service error into an actionable tool result.
// The second return is false for system failures, which callers should
// return as Go errors so the transport reports them.
func MapServiceError(err error) (*mcp.CallToolResult, bool) {
	switch {
	case err == nil:
		return nil, false
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult(codeNotFound, err.Error()), true
	case errors.Is(err, apperrors.ErrInvalidDepth),
		errors.Is(err, apperrors.ErrInvalidDetailLevel):
		return NewErrorResult(codeInvalidArgument, err.Error()), true
	case errors.Is(err, apperrors.ErrPermissionInsufficient):
		return NewErrorResult(codePermission, err.Error()), true
	case errors.Is(err, apperrors.ErrCatalogUnavailable):
		return NewErrorResult(codeCatalogUnavailable, err.Error()), true
	default:
		return nil, false
	}
}
