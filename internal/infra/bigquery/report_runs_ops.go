package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
	"github.com/dvloznov/ops-review/internal/logger"
)

const (
	reportRunsTable = "report_runs"
	maxErrorLen     = 2000
)

type ReportRunRow = bq.ReportRunRow

// StartReportRunWithClient inserts a new row into report_runs with
// status=RUNNING and returns the generated run_id.
func StartReportRunWithClient(ctx context.Context, client *bigquery.Client, datasetID, report, source string) (string, error) {
	runID := uuid.NewString()

	q := client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			report,
			source,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@report,
			@source,
			@started_ts,
			@status
		)
	`, datasetID, reportRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "report", Value: report},
		{Name: "source", Value: source},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: bq.RunStatusRunning},
	}

	if err := runAndWait(ctx, q); err != nil {
		return "", fmt.Errorf("StartReportRun: %w", err)
	}
	return runID, nil
}

// MarkReportRunSucceededWithClient sets status=SUCCESS, finished_ts and the
// row counts, and clears error_message.
func MarkReportRunSucceededWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID string, stats bq.RunStats) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    rows_in = @rows_in,
		    kept = @kept,
		    rejected = @rejected,
		    skipped = @skipped
		WHERE run_id = @run_id
	`, datasetID, reportRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "rows_in", Value: stats.RowsIn},
		{Name: "kept", Value: stats.Kept},
		{Name: "rejected", Value: stats.Rejected},
		{Name: "skipped", Value: stats.Skipped},
		{Name: "run_id", Value: runID},
	}

	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("MarkReportRunSucceeded: %w", err)
	}
	return nil
}

// MarkReportRunFailedWithClient sets status=FAILED, finished_ts and
// error_message. Failures are logged rather than returned since the caller is
// already handling an error.
func MarkReportRunFailedWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID string, runErr error) {
	log := logger.FromContext(ctx)

	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, datasetID, reportRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "run_id", Value: runID},
	}

	if err := runAndWait(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkReportRunFailed: update failed")
	}
}

// ListReportRunsWithClient returns the latest runs, newest first. An empty
// report lists runs for every report.
func ListReportRunsWithClient(ctx context.Context, client *bigquery.Client, datasetID, report string, limit int) ([]*ReportRunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			report,
			IFNULL(source, '') AS source,
			started_ts,
			finished_ts,
			IFNULL(status, '') AS status,
			IFNULL(error_message, '') AS error_message,
			rows_in,
			kept,
			rejected,
			skipped
		FROM %s.%s
		WHERE (@report = "" OR report = @report)
		ORDER BY started_ts DESC
		LIMIT @limit
	`, datasetID, reportRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "report", Value: report},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListReportRuns: query read: %w", err)
	}

	var rows []*ReportRunRow
	for {
		var r ReportRunRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListReportRuns: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
