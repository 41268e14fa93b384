package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/services"
)

// SchemaToolDeps contains dependencies for catalog metadata tools.
type SchemaToolDeps struct {
	CatalogService services.CatalogService
	SchemaCache    services.SchemaCache
	Logger         *zap.Logger
}

// RegisterSchemaTools registers catalog metadata MCP tools.
func RegisterSchemaTools(s *server.MCPServer, deps *SchemaToolDeps) {
	registerGetTableSchemaTool(s, deps)
	registerGetColumnDataTool(s, deps)
	registerGetObjectDefinitionTool(s, deps)
	registerRefreshSchemaCacheTool(s, deps)
	registerPermissionsSelfTestTool(s, deps)
}

func registerGetTableSchemaTool(s *server.MCPServer, deps *SchemaToolDeps) {
	tool := mcp.NewTool(
		"get_table_schema",
		mcp.WithDescription(
			"Return the column layout of a table: names, data types, nullability and ordinal position. "+
				"Accepts bare, qualified, bracketed or synonym names. "+
				"Example: get_table_schema(table='hr.Employees')",
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table name to describe"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return nil, err
		}
		if trimString(table) == "" {
			return NewErrorResult(codeInvalidParameters, "parameter 'table' cannot be empty"), nil
		}

		schema, err := deps.CatalogService.TableSchema(ctx, trimString(table))
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to describe table: %w", err)
		}
		return jsonResult(schema)
	})
}

func registerGetColumnDataTool(s *server.MCPServer, deps *SchemaToolDeps) {
	tool := mcp.NewTool(
		"get_column_data",
		mcp.WithDescription(
			"Fetch a small sample of values from one column, filtered by equality on another column. "+
				"Identifiers are validated against the catalog and the filter value is bound as a parameter. "+
				"Example: get_column_data(table='Employees', select_column='Salary', where_column='EmployeeID', value='1042')",
		),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table to sample")),
		mcp.WithString("select_column", mcp.Required(), mcp.Description("Column whose values to return")),
		mcp.WithString("where_column", mcp.Required(), mcp.Description("Column to filter on")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Equality filter value")),
		mcp.WithNumber("limit", mcp.Description("Optional - maximum rows to return, default 20")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return nil, err
		}
		selectColumn, err := req.RequireString("select_column")
		if err != nil {
			return nil, err
		}
		whereColumn, err := req.RequireString("where_column")
		if err != nil {
			return nil, err
		}
		value, err := req.RequireString("value")
		if err != nil {
			return nil, err
		}

		values, err := deps.CatalogService.ColumnSample(ctx,
			trimString(table), trimString(selectColumn), trimString(whereColumn),
			value, getOptionalInt(req, "limit", 20))
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to sample column data: %w", err)
		}
		return jsonResult(map[string]any{
			"table":  trimString(table),
			"column": trimString(selectColumn),
			"values": values,
		})
	})
}

func registerGetObjectDefinitionTool(s *server.MCPServer, deps *SchemaToolDeps) {
	tool := mcp.NewTool(
		"get_object_definition",
		mcp.WithDescription(
			"Return the source text of a procedure, view, function or trigger. "+
				"Example: get_object_definition(name='dbo.usp_UpdateSalaries')",
		),
		mcp.WithString(
			"name",
			mcp.Required(),
			mcp.Description("Object name, bare or schema-qualified"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return nil, err
		}
		if trimString(name) == "" {
			return NewErrorResult(codeInvalidParameters, "parameter 'name' cannot be empty"), nil
		}

		source, err := deps.CatalogService.ObjectSource(ctx, trimString(name))
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to read object definition: %w", err)
		}
		return jsonResult(source)
	})
}

func registerRefreshSchemaCacheTool(s *server.MCPServer, deps *SchemaToolDeps) {
	tool := mcp.NewTool(
		"refresh_schema_cache",
		mcp.WithDescription(
			"Rebuild the catalog metadata snapshot from the live database. Returns the new object "+
				"counts; degraded sections (for example agent jobs not visible) are listed in notes.",
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, notes, err := deps.SchemaCache.Refresh(ctx)
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to refresh schema cache: %w", err)
		}
		deps.Logger.Info("schema cache refreshed via tool", zap.Int("tables", counts.Tables))
		return jsonResult(map[string]any{
			"refreshed": true,
			"counts":    counts,
			"notes":     notes,
		})
	})
}

func registerPermissionsSelfTestTool(s *server.MCPServer, deps *SchemaToolDeps) {
	tool := mcp.NewTool(
		"permissions_self_test",
		mcp.WithDescription(
			"Probe which metadata catalogs the current login can read (module text, dependencies, "+
				"computed columns, default constraints). Missing visibility degrades lineage detail; "+
				"this tool shows what is and is not available.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(deps.CatalogService.PermissionSelfTest(ctx))
	})
}
