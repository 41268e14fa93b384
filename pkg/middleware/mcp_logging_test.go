package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dota-labs/dota-engine/pkg/logging"
)

func TestMCPRequestLogger(t *testing.T) {
	t.Run("logs successful tool call", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		logger := zap.New(core)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{}"}]}}`))
		})

		wrapped := MCPRequestLogger(logger)(handler)

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_column_lineage","arguments":{"table":"dbo.Employees","column":"Salary"}}}`
		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, 2, logs.Len(), "Should log request and response")

		requestLog := logs.All()[0]
		assert.Equal(t, "MCP request", requestLog.Message)
		assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
		assert.Equal(t, "get_column_lineage", requestLog.ContextMap()["tool"])
		assert.NotNil(t, requestLog.ContextMap()["arguments"])

		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response success", responseLog.Message)
		assert.Equal(t, "get_column_lineage", responseLog.ContextMap()["tool"])
		assert.NotNil(t, responseLog.ContextMap()["duration"])
	})

	t.Run("logs tool call with error response", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		logger := zap.New(core)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK) // JSON-RPC errors return HTTP 200
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"catalog unavailable"}}`))
		})

		wrapped := MCPRequestLogger(logger)(handler)

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"refresh_schema_cache","arguments":{}}}`
		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, 2, logs.Len())

		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response error", responseLog.Message)
		assert.Equal(t, int64(-32603), responseLog.ContextMap()["error_code"])
		assert.Equal(t, "catalog unavailable", responseLog.ContextMap()["error_message"])
	})

	t.Run("redacts connection credentials", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		logger := zap.New(core)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
		})

		wrapped := MCPRequestLogger(logger)(handler)

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"switch_connection","arguments":{"host":"sql.internal","password":"secret123","username":"reader"}}}`
		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		requestLog := logs.All()[0]
		args := requestLog.ContextMap()["arguments"].(map[string]interface{})
		assert.Equal(t, logging.RedactedText, args["password"])
		assert.Equal(t, "sql.internal", args["host"])
		assert.Equal(t, "reader", args["username"])
	})

	t.Run("passes through with nil logger", func(t *testing.T) {
		called := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})

		wrapped := MCPRequestLogger(nil)(handler)

		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.True(t, called, "Should pass through to handler")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("handles malformed JSON request gracefully", func(t *testing.T) {
		core, _ := observer.New(zapcore.DebugLevel)
		logger := zap.New(core)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad request"}`))
		})

		wrapped := MCPRequestLogger(logger)(handler)

		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{invalid json`))
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("handles empty request body", func(t *testing.T) {
		core, _ := observer.New(zapcore.DebugLevel)
		logger := zap.New(core)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		wrapped := MCPRequestLogger(logger)(handler)

		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(""))
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRedactArguments(t *testing.T) {
	t.Run("redacts sensitive keywords", func(t *testing.T) {
		args := map[string]interface{}{
			"password":     "secret",
			"api_key":      "abc123",
			"access_token": "xyz789",
			"credential":   "cred123",
			"normal_field": "visible",
		}

		result := redactArguments(args)

		assert.Equal(t, logging.RedactedText, result["password"])
		assert.Equal(t, logging.RedactedText, result["api_key"])
		assert.Equal(t, logging.RedactedText, result["access_token"])
		assert.Equal(t, logging.RedactedText, result["credential"])
		assert.Equal(t, "visible", result["normal_field"])
	})

	t.Run("case insensitive keyword matching", func(t *testing.T) {
		args := map[string]interface{}{
			"PASSWORD": "secret",
			"Api_Key":  "abc123",
		}

		result := redactArguments(args)

		assert.Equal(t, logging.RedactedText, result["PASSWORD"])
		assert.Equal(t, logging.RedactedText, result["Api_Key"])
	})

	t.Run("truncates long strings", func(t *testing.T) {
		args := map[string]interface{}{
			"long_value": strings.Repeat("x", 250),
			"short":      "abc",
		}

		result := redactArguments(args)

		truncated := result["long_value"].(string)
		assert.Len(t, truncated, 203) // 200 + "..."
		assert.True(t, strings.HasSuffix(truncated, "..."))
		assert.Equal(t, "abc", result["short"])
	})

	t.Run("handles nil arguments", func(t *testing.T) {
		assert.Nil(t, redactArguments(nil))
	})

	t.Run("preserves non-string values", func(t *testing.T) {
		args := map[string]interface{}{
			"limit":   20,
			"running": true,
			"null":    nil,
		}

		result := redactArguments(args)

		assert.Equal(t, 20, result["limit"])
		assert.Equal(t, true, result["running"])
		assert.Nil(t, result["null"])
	})
}
