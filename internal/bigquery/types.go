package bigquery

import (
	"context"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// Report run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// RunStats summarizes one pipeline invocation.
type RunStats struct {
	RowsIn   int
	Kept     int
	Rejected int
	Skipped  int
}

// RunRepository records report refreshes.
type RunRepository interface {
	// StartReportRun inserts a run with status=RUNNING and returns its run_id.
	StartReportRun(ctx context.Context, report, source string) (string, error)

	// MarkReportRunSucceeded sets status=SUCCESS, finished_ts and the row counts.
	MarkReportRunSucceeded(ctx context.Context, runID string, stats RunStats) error

	// MarkReportRunFailed sets status=FAILED, finished_ts and error_message.
	MarkReportRunFailed(ctx context.Context, runID string, runErr error)

	// ListReportRuns returns the most recent runs, newest first.
	ListReportRuns(ctx context.Context, report string, limit int) ([]*ReportRunRow, error)
}

// SnapshotRepository stores the aging balance per bucket over time.
type SnapshotRepository interface {
	// InsertAgingSnapshots inserts a batch of snapshot rows.
	InsertAgingSnapshots(ctx context.Context, rows []*AgingSnapshotRow) error

	// QueryAgingSnapshots returns snapshots for report within [start, end].
	QueryAgingSnapshots(ctx context.Context, report string, start, end civil.Date) ([]*AgingSnapshotRow, error)
}

// ReportRunRow represents a report refresh in BigQuery.
type ReportRunRow struct {
	RunID  string `bigquery:"run_id"` // REQUIRED
	Report string `bigquery:"report"` // REQUIRED
	Source string `bigquery:"source"` // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"`        // NULLABLE
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	RowsIn   bigquery.NullInt64 `bigquery:"rows_in"`  // NULLABLE
	Kept     bigquery.NullInt64 `bigquery:"kept"`     // NULLABLE
	Rejected bigquery.NullInt64 `bigquery:"rejected"` // NULLABLE
	Skipped  bigquery.NullInt64 `bigquery:"skipped"`  // NULLABLE
}

// AgingSnapshotRow is the open balance of one aging bucket on one date.
type AgingSnapshotRow struct {
	RunID    string     `bigquery:"run_id"`
	Report   string     `bigquery:"report"`
	AsOf     civil.Date `bigquery:"as_of"`
	Interval string     `bigquery:"aging_interval"`

	Balance *big.Rat `bigquery:"balance"` // NUMERIC
	Count   int64    `bigquery:"record_count"`

	CreatedTS time.Time `bigquery:"created_ts"`
}
