package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// getOptionalString extracts an optional string argument, empty when absent.
func getOptionalString(req mcp.CallToolRequest, name string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	if val, exists := args[name]; exists {
		if s, ok := val.(string); ok {
			return trimString(s)
		}
	}
	return ""
}

// getOptionalInt extracts an optional integer argument, def when absent.
// JSON numbers arrive as float64.
func getOptionalInt(req mcp.CallToolRequest, name string, def int) int {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return def
	}
	if val, exists := args[name]; exists {
		switch n := val.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// getOptionalBool extracts an optional boolean argument, def when absent.
func getOptionalBool(req mcp.CallToolRequest, name string, def bool) bool {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return def
	}
	if val, exists := args[name]; exists {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return def
}

// jsonResult marshals a payload into a text tool result.
func jsonResult(payload any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
