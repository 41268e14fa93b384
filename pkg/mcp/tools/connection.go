package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog/mssql"
	"github.com/dota-labs/dota-engine/pkg/services"
)

// ConnectionToolDeps contains dependencies for connection management tools.
type ConnectionToolDeps struct {
	Connections services.ConnectionManager
	SchemaCache services.SchemaCache
	Logger      *zap.Logger
}

// RegisterConnectionTools registers connection management MCP tools.
func RegisterConnectionTools(s *server.MCPServer, deps *ConnectionToolDeps) {
	registerGetCurrentConnectionTool(s, deps)
	registerTestConnectionTool(s, deps)
	registerSwitchConnectionTool(s, deps)
}

// connectionConfigFromRequest builds catalog settings from tool arguments,
// filling defaults for port and timeout. The password is accepted as an
// argument and never echoed back.
func connectionConfigFromRequest(req mcp.CallToolRequest) (mssql.Config, error) {
	host, err := req.RequireString("host")
	if err != nil {
		return mssql.Config{}, err
	}
	database, err := req.RequireString("database")
	if err != nil {
		return mssql.Config{}, err
	}
	username, err := req.RequireString("username")
	if err != nil {
		return mssql.Config{}, err
	}
	password, err := req.RequireString("password")
	if err != nil {
		return mssql.Config{}, err
	}
	return mssql.Config{
		Host:                   trimString(host),
		Port:                   getOptionalInt(req, "port", mssql.DefaultPort()),
		Database:               trimString(database),
		Username:               trimString(username),
		Password:               password,
		Encrypt:                getOptionalBool(req, "encrypt", true),
		TrustServerCertificate: getOptionalBool(req, "trust_server_certificate", false),
		ConnectionTimeout:      mssql.DefaultConnectionTimeout(),
	}, nil
}

func withConnectionParams(tool ...mcp.ToolOption) []mcp.ToolOption {
	params := []mcp.ToolOption{
		mcp.WithString("host", mcp.Required(), mcp.Description("Database server hostname")),
		mcp.WithNumber("port", mcp.Description("Optional - server port, default 1433")),
		mcp.WithString("database", mcp.Required(), mcp.Description("Database name")),
		mcp.WithString("username", mcp.Required(), mcp.Description("SQL login name")),
		mcp.WithString("password", mcp.Required(), mcp.Description("SQL login password; never echoed back")),
		mcp.WithBoolean("encrypt", mcp.Description("Optional - encrypt the connection, default true")),
		mcp.WithBoolean("trust_server_certificate", mcp.Description("Optional - skip certificate validation, default false")),
	}
	return append(tool, params...)
}

func registerGetCurrentConnectionTool(s *server.MCPServer, deps *ConnectionToolDeps) {
	tool := mcp.NewTool(
		"get_current_connection",
		mcp.WithDescription("Show the active catalog connection with credentials redacted."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(deps.Connections.Info())
	})
}

func registerTestConnectionTool(s *server.MCPServer, deps *ConnectionToolDeps) {
	opts := withConnectionParams(
		mcp.WithDescription(
			"Open a throwaway connection with the given settings and verify it works. "+
				"The active connection is not changed.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)
	tool := mcp.NewTool("test_connection", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cfg, err := connectionConfigFromRequest(req)
		if err != nil {
			return nil, err
		}
		if err := deps.Connections.Test(ctx, cfg); err != nil {
			return NewErrorResult(codeCatalogUnavailable, err.Error()), nil
		}
		return jsonResult(map[string]any{
			"ok":       true,
			"host":     cfg.Host,
			"database": cfg.Database,
		})
	})
}

func registerSwitchConnectionTool(s *server.MCPServer, deps *ConnectionToolDeps) {
	opts := withConnectionParams(
		mcp.WithDescription(
			"Replace the active catalog connection. The previous connection is closed, the schema "+
				"snapshot is discarded and memoized lineage results are dropped. In-flight requests "+
				"finish against the connection they started with.",
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)
	tool := mcp.NewTool("switch_connection", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cfg, err := connectionConfigFromRequest(req)
		if err != nil {
			return nil, err
		}
		if err := deps.Connections.Switch(ctx, cfg); err != nil {
			return NewErrorResult(codeCatalogUnavailable, err.Error()), nil
		}

		counts, notes, err := deps.SchemaCache.Refresh(ctx)
		if err != nil {
			// The switch itself succeeded; report the warm-up failure.
			deps.Logger.Warn("schema refresh after switch failed", zap.Error(err))
			return jsonResult(map[string]any{
				"switched": true,
				"warmed":   false,
				"note":     "connection switched but the schema snapshot could not be built; call refresh_schema_cache",
			})
		}
		return jsonResult(map[string]any{
			"switched": true,
			"warmed":   true,
			"counts":   counts,
			"notes":    notes,
		})
	})
}
