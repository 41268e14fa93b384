package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/models"
	"github.com/dota-labs/dota-engine/pkg/services"
)

// LineageToolDeps contains dependencies for lineage tools.
type LineageToolDeps struct {
	LineageService services.LineageService
	Logger         *zap.Logger
}

// RegisterLineageTools registers the column lineage MCP tools.
func RegisterLineageTools(s *server.MCPServer, deps *LineageToolDeps) {
	registerGetColumnLineageTool(s, deps)
	registerGetColumnPopulationTool(s, deps)
	registerFindTablesWithColumnTool(s, deps)
}

func registerGetColumnLineageTool(s *server.MCPServer, deps *LineageToolDeps) {
	tool := mcp.NewTool(
		"get_column_lineage",
		mcp.WithDescription(
			"Trace how a column gets its values: the procedures and triggers that write it, "+
				"the expressions they assign, any computed-column or default definition, and a bounded "+
				"upstream dependency graph. Results are best effort; caveats are listed in notes. "+
				"Example: get_column_lineage(table='hr.Employees', column='Salary', max_depth=3)",
		),
		mcp.WithString(
			"table",
			mcp.Required(),
			mcp.Description("Table name, bare or schema-qualified (e.g. 'Employees' or 'hr.Employees'). Synonyms resolve to their base table."),
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column whose lineage to trace"),
		),
		mcp.WithNumber(
			"max_depth",
			mcp.Description(fmt.Sprintf("Optional - traversal depth from 1 to %d; omit for the configured default", models.MaxLineageDepth)),
		),
		mcp.WithString(
			"include_definitions",
			mcp.Description("Optional - how much writer source text to attach: none | excerpt | full"),
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
		column, err := req.RequireString("column")
		if err != nil {
			return nil, err
		}
		if trimString(table) == "" || trimString(column) == "" {
			return NewErrorResult(codeInvalidParameters, "parameters 'table' and 'column' cannot be empty"), nil
		}

		result, err := deps.LineageService.GetColumnLineage(ctx, services.LineageRequest{
			Table:    trimString(table),
			Column:   trimString(column),
			MaxDepth: getOptionalInt(req, "max_depth", 0),
			Detail:   getOptionalString(req, "include_definitions"),
		})
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to build column lineage: %w", err)
		}
		return jsonResult(result)
	})
}

func registerGetColumnPopulationTool(s *server.MCPServer, deps *LineageToolDeps) {
	tool := mcp.NewTool(
		"get_column_population",
		mcp.WithDescription(
			"Answer 'how is this column populated'. Works like get_column_lineage but the table is "+
				"optional: when omitted, candidate tables containing the column are ranked and the best one "+
				"is selected, with alternatives and the selection reasoning disclosed. The result is shaped "+
				"for rendering: a flat topology plus the population sources grouped together. "+
				"Example: get_column_population(column='Salary')",
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column to explain"),
		),
		mcp.WithString(
			"table",
			mcp.Description("Optional - table containing the column; omit to auto-select"),
		),
		mcp.WithNumber(
			"max_depth",
			mcp.Description(fmt.Sprintf("Optional - traversal depth from 1 to %d", models.MaxLineageDepth)),
		),
		mcp.WithString(
			"include_definitions",
			mcp.Description("Optional - none | excerpt | full"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		column, err := req.RequireString("column")
		if err != nil {
			return nil, err
		}
		if trimString(column) == "" {
			return NewErrorResult(codeInvalidParameters, "parameter 'column' cannot be empty"), nil
		}

		result, err := deps.LineageService.GetColumnPopulation(ctx, services.LineageRequest{
			Table:    getOptionalString(req, "table"),
			Column:   trimString(column),
			MaxDepth: getOptionalInt(req, "max_depth", 0),
			Detail:   getOptionalString(req, "include_definitions"),
		})
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to build column population: %w", err)
		}
		return jsonResult(result)
	})
}

func registerFindTablesWithColumnTool(s *server.MCPServer, deps *LineageToolDeps) {
	tool := mcp.NewTool(
		"find_tables_with_column",
		mcp.WithDescription(
			"List every table that contains a column with the given name. "+
				"Example: find_tables_with_column(column='EmployeeID')",
		),
		mcp.WithString(
			"column",
			mcp.Required(),
			mcp.Description("Column name to search for"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		column, err := req.RequireString("column")
		if err != nil {
			return nil, err
		}
		if trimString(column) == "" {
			return NewErrorResult(codeInvalidParameters, "parameter 'column' cannot be empty"), nil
		}

		tables, err := deps.LineageService.FindTablesWithColumn(ctx, trimString(column))
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to search for column: %w", err)
		}
		return jsonResult(map[string]any{
			"column": trimString(column),
			"tables": tables,
		})
	})
}
