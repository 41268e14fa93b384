package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/services"
)

// JobsToolDeps contains dependencies for the scheduled-job tools.
type JobsToolDeps struct {
	JobsService services.JobsService
	Logger      *zap.Logger
}

// RegisterJobsTools registers scheduled-job MCP tools.
func RegisterJobsTools(s *server.MCPServer, deps *JobsToolDeps) {
	tool := mcp.NewTool(
		"get_jobs_overview",
		mcp.WithDescription(
			"Report the latest outcome of scheduled agent jobs: status, last run time, whether a run "+
				"is in progress, and failure details for jobs that last failed. "+
				"Example: get_jobs_overview(job='Nightly Payroll Load', lookback_days=7)",
		),
		mcp.WithString(
			"job",
			mcp.Description("Optional - a single job name (case-insensitive); omit for all jobs"),
		),
		mcp.WithNumber(
			"lookback_days",
			mcp.Description("Optional - how far back to look for failure details, default 7"),
		),
		mcp.WithBoolean(
			"include_running",
			mcp.Description("Optional - mark jobs with an active run as in progress, default true"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		overviews, err := deps.JobsService.Overview(ctx,
			getOptionalString(req, "job"),
			getOptionalInt(req, "lookback_days", 7),
			getOptionalBool(req, "include_running", true))
		if err != nil {
			if mapped, ok := MapServiceError(err); ok {
				return mapped, nil
			}
			return nil, fmt.Errorf("failed to read jobs overview: %w", err)
		}
		return jsonResult(map[string]any{"jobs": overviews})
	})
}
