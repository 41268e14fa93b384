package models

import "time"

// Job run outcomes, mapped from agent history run_status codes.
const (
	JobStatusFailed     = "Failed"
	JobStatusSucceeded  = "Succeeded"
	JobStatusRetry      = "Retry"
	JobStatusCanceled   = "Canceled"
	JobStatusInProgress = "InProgress"
	JobStatusUnknown    = "Unknown"
)

// JobFailure describes the most recent failed run of a job, including the
// failing step where history permits.
type JobFailure struct {
	Job            string     `json:"job"`
	FailedAt       *time.Time `json:"failed_at"`
	SummaryMessage string     `json:"summary_message,omitempty"`
	StepID         *int       `json:"step_id,omitempty"`
	StepName       string     `json:"step_name,omitempty"`
	StepMessage    string     `json:"step_message,omitempty"`
}

// JobOverview is the latest outcome of one scheduled job.
type JobOverview struct {
	Job         string      `json:"job"`
	Status      string      `json:"status"`
	LastRun     *time.Time  `json:"last_run"`
	Running     bool        `json:"running"`
	LastFailure *JobFailure `json:"last_failure"`
}

// CatalogVisibility reports which metadata catalogs the current login can see.
// Missing visibility degrades lineage detail; it never fails a request.
type CatalogVisibility struct {
	Modules            bool              `json:"modules"`
	Dependencies       bool              `json:"dependencies"`
	ComputedColumns    bool              `json:"computed_columns"`
	DefaultConstraints bool              `json:"default_constraints"`
	Reasons            map[string]string `json:"reasons,omitempty"`
}
