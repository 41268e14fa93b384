package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// agent history run_status codes.
const (
	runStatusFailed     = 0
	runStatusSucceeded  = 1
	runStatusRetry      = 2
	runStatusCanceled   = 3
	runStatusInProgress = 4
)

func runStatusLabel(code int) string {
	switch code {
	case runStatusFailed:
		return models.JobStatusFailed
	case runStatusSucceeded:
		return models.JobStatusSucceeded
	case runStatusRetry:
		return models.JobStatusRetry
	case runStatusCanceled:
		return models.JobStatusCanceled
	case runStatusInProgress:
		return models.JobStatusInProgress
	default:
		return models.JobStatusUnknown
	}
}

// JobsOverview reports the latest outcome of agent jobs. An empty jobName
// covers all jobs. Failure details are resolved only within the lookback
// window so ancient failures do not surface as current state.
func (p *Provider) JobsOverview(ctx context.Context, jobName string, lookbackDays int, includeRunning bool) ([]models.JobOverview, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	query := `SET NOCOUNT ON;
		SELECT j.name,
		       ISNULL(h.run_status, -1),
		       h.run_at,
		       CASE WHEN a.start_execution_date IS NOT NULL AND a.stop_execution_date IS NULL
		            THEN 1 ELSE 0 END
		FROM msdb.dbo.sysjobs j
		OUTER APPLY (
		    SELECT TOP 1 hh.run_status,
		           msdb.dbo.agent_datetime(hh.run_date, hh.run_time) AS run_at
		    FROM msdb.dbo.sysjobhistory hh
		    WHERE hh.job_id = j.job_id AND hh.step_id = 0
		    ORDER BY hh.instance_id DESC
		) h
		OUTER APPLY (
		    SELECT TOP 1 aa.start_execution_date, aa.stop_execution_date
		    FROM msdb.dbo.sysjobactivity aa
		    WHERE aa.job_id = j.job_id
		    ORDER BY aa.session_id DESC
		) a
		WHERE (@job = '' OR LOWER(j.name) = LOWER(@job))
		ORDER BY j.name`

	rows, err := p.db.QueryContext(ctx, query, sql.Named("job", jobName))
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: msdb job history: %v", apperrors.ErrPermissionInsufficient, err)
		}
		return nil, p.wrapQueryError("jobs overview", err)
	}
	defer rows.Close()

	var overviews []models.JobOverview
	for rows.Next() {
		var (
			name       string
			statusCode int
			lastRun    sql.NullTime
			running    int
		)
		if err := rows.Scan(&name, &statusCode, &lastRun, &running); err != nil {
			return nil, fmt.Errorf("failed to scan job overview row: %w", err)
		}

		overview := models.JobOverview{
			Job:     name,
			Status:  runStatusLabel(statusCode),
			Running: running == 1,
		}
		if statusCode == -1 {
			overview.Status = models.JobStatusUnknown
		}
		if lastRun.Valid {
			t := lastRun.Time
			overview.LastRun = &t
		}
		if overview.Running && includeRunning {
			overview.Status = models.JobStatusInProgress
		}
		overviews = append(overviews, overview)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading job overview rows: %w", err)
	}

	for i := range overviews {
		if overviews[i].Status != models.JobStatusFailed {
			continue
		}
		failure, err := p.lastFailure(ctx, overviews[i].Job, lookbackDays)
		if err != nil {
			p.logger.Warn("failed to resolve job failure details",
				zap.String("job", overviews[i].Job), zap.Error(err))
			continue
		}
		overviews[i].LastFailure = failure
	}
	return overviews, nil
}

// lastFailure finds the most recent failed outcome of a job within the
// lookback window, with the failing step where history kept it.
func (p *Provider) lastFailure(ctx context.Context, jobName string, lookbackDays int) (*models.JobFailure, error) {
	query := `SET NOCOUNT ON;
		SELECT TOP 1 h.instance_id,
		       msdb.dbo.agent_datetime(h.run_date, h.run_time),
		       ISNULL(h.message, '')
		FROM msdb.dbo.sysjobhistory h
		JOIN msdb.dbo.sysjobs j ON j.job_id = h.job_id
		WHERE LOWER(j.name) = LOWER(@job)
		  AND h.step_id = 0
		  AND h.run_status = 0
		  AND msdb.dbo.agent_datetime(h.run_date, h.run_time) >= DATEADD(DAY, -@days, GETDATE())
		ORDER BY h.instance_id DESC`

	var (
		instanceID int64
		failedAt   time.Time
		summary    string
	)
	err := p.db.QueryRowContext(ctx, query,
		sql.Named("job", jobName),
		sql.Named("days", lookbackDays)).Scan(&instanceID, &failedAt, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.wrapQueryError("job failure summary", err)
	}

	failure := &models.JobFailure{
		Job:            jobName,
		FailedAt:       &failedAt,
		SummaryMessage: summary,
	}

	// Step rows precede the outcome row in history, so the failing step is
	// the nearest failed step below the summary instance.
	stepQuery := `SET NOCOUNT ON;
		SELECT TOP 1 h.step_id, h.step_name, ISNULL(h.message, '')
		FROM msdb.dbo.sysjobhistory h
		JOIN msdb.dbo.sysjobs j ON j.job_id = h.job_id
		WHERE LOWER(j.name) = LOWER(@job)
		  AND h.step_id > 0
		  AND h.run_status = 0
		  AND h.instance_id < @instance
		ORDER BY h.instance_id DESC`

	var (
		stepID      int
		stepName    string
		stepMessage string
	)
	err = p.db.QueryRowContext(ctx, stepQuery,
		sql.Named("job", jobName),
		sql.Named("instance", instanceID)).Scan(&stepID, &stepName, &stepMessage)
	if err == nil {
		failure.StepID = &stepID
		failure.StepName = stepName
		failure.StepMessage = stepMessage
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, p.wrapQueryError("job failure step", err)
	}
	return failure, nil
}

// Visibility probes which metadata catalogs the current login can read.
// Each probe is best effort; failures record a reason instead of erroring.
func (p *Provider) Visibility(ctx context.Context) models.CatalogVisibility {
	visibility := models.CatalogVisibility{Reasons: map[string]string{}}

	probes := []struct {
		name  string
		query string
		flag  *bool
	}{
		{"modules", `SELECT TOP 1 object_id FROM sys.sql_modules`, &visibility.Modules},
		{"dependencies", `SELECT TOP 1 referencing_id FROM sys.sql_expression_dependencies`, &visibility.Dependencies},
		{"computed_columns", `SELECT TOP 1 object_id FROM sys.computed_columns`, &visibility.ComputedColumns},
		{"default_constraints", `SELECT TOP 1 object_id FROM sys.default_constraints`, &visibility.DefaultConstraints},
	}

	for _, probe := range probes {
		var id int64
		err := p.db.QueryRowContext(ctx, "SET NOCOUNT ON; "+probe.query).Scan(&id)
		switch {
		case err == nil, errors.Is(err, sql.ErrNoRows):
			// An empty catalog is still a visible catalog.
			*probe.flag = true
		case isPermissionError(err):
			visibility.Reasons[probe.name] = "permission denied"
		default:
			visibility.Reasons[probe.name] = err.Error()
		}
	}
	if len(visibility.Reasons) == 0 {
		visibility.Reasons = nil
	}
	return visibility
}
