package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithArgs(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestGetOptionalString(t *testing.T) {
	req := requestWithArgs(map[string]any{
		"table":  "  dbo.Employees  ",
		"number": 5,
	})

	assert.Equal(t, "dbo.Employees", getOptionalString(req, "table"))
	assert.Empty(t, getOptionalString(req, "missing"))
	// Non-string values are ignored.
	assert.Empty(t, getOptionalString(req, "number"))
}

func TestGetOptionalInt(t *testing.T) {
	// JSON numbers decode as float64.
	req := requestWithArgs(map[string]any{
		"max_depth": float64(7),
		"label":     "five",
	})

	assert.Equal(t, 7, getOptionalInt(req, "max_depth", 5))
	assert.Equal(t, 5, getOptionalInt(req, "missing", 5))
	assert.Equal(t, 5, getOptionalInt(req, "label", 5))
}

func TestGetOptionalBool(t *testing.T) {
	req := requestWithArgs(map[string]any{
		"include_running": false,
	})

	assert.False(t, getOptionalBool(req, "include_running", true))
	assert.True(t, getOptionalBool(req, "missing", true))
}

func TestGetOptionalArgsNotAMap(t *testing.T) {
	var req mcp.CallToolRequest
	req.Params.Arguments = "not a map"

	assert.Empty(t, getOptionalString(req, "table"))
	assert.Equal(t, 3, getOptionalInt(req, "depth", 3))
	assert.True(t, getOptionalBool(req, "flag", true))
}

func TestJSONResult(t *testing.T) {
	result, err := jsonResult(map[string]any{"refreshed": true})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	assert.Equal(t, true, payload["refreshed"])
}
