package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/services"
)

// AskToolDeps contains dependencies for the free-text entry point.
type AskToolDeps struct {
	LineageService services.LineageService
	JobsService    services.JobsService
	Logger         *zap.Logger
}

// RegisterAskTool registers the free-text question tool. Parsing is
// pattern-based; questions it cannot read come back with a hint listing the
// precise tools to use instead.
func RegisterAskTool(s *server.MCPServer, deps *AskToolDeps) {
	tool := mcp.NewTool(
		"ask",
		mcp.WithDescription(
			"Answer a free-text question about column origins or job health by routing to the "+
				"matching tool. Understands questions like 'how is Salary in Employees populated?', "+
				"'which tables have a column named EmployeeID?' and 'did the job \"Nightly Load\" fail?'.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return nil, err
		}

		intent := services.ParseIntent(question)
		deps.Logger.Debug("parsed question",
			zap.String("kind", string(intent.Kind)),
			zap.String("table", intent.Table),
			zap.String("column", intent.Column))

		switch intent.Kind {
		case services.IntentPopulation:
			result, err := deps.LineageService.GetColumnPopulation(ctx, services.LineageRequest{
				Table:  intent.Table,
				Column: intent.Column,
			})
			if err != nil {
				if mapped, ok := MapServiceError(err); ok {
					return mapped, nil
				}
				return nil, fmt.Errorf("failed to build column population: %w", err)
			}
			return jsonResult(result)

		case services.IntentWhereColumn:
			tables, err := deps.LineageService.FindTablesWithColumn(ctx, intent.Column)
			if err != nil {
				if mapped, ok := MapServiceError(err); ok {
					return mapped, nil
				}
				return nil, fmt.Errorf("failed to search for column: %w", err)
			}
			return jsonResult(map[string]any{
				"column": intent.Column,
				"tables": tables,
			})

		case services.IntentJobs:
			overviews, err := deps.JobsService.Overview(ctx, intent.Job, 7, true)
			if err != nil {
				if mapped, ok := MapServiceError(err); ok {
					return mapped, nil
				}
				return nil, fmt.Errorf("failed to read jobs overview: %w", err)
			}
			return jsonResult(map[string]any{"jobs": overviews})

		default:
			return NewErrorResult(codeUnrecognizedRequest,
				"could not read that question; try get_column_population(column=...), "+
					"find_tables_with_column(column=...) or get_jobs_overview()"), nil
		}
	})
}
