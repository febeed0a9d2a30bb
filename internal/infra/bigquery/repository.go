package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
)

// Re-export interfaces from shared package
type RunRepository = bq.RunRepository
type SnapshotRepository = bq.SnapshotRepository

// Repository implements RunRepository and SnapshotRepository against one
// BigQuery dataset with a shared client.
type Repository struct {
	client    *bigquery.Client
	datasetID string
}

// NewRepository creates a Repository with its own BigQuery client.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) StartReportRun(ctx context.Context, report, source string) (string, error) {
	return StartReportRunWithClient(ctx, r.client, r.datasetID, report, source)
}

func (r *Repository) MarkReportRunSucceeded(ctx context.Context, runID string, stats bq.RunStats) error {
	return MarkReportRunSucceededWithClient(ctx, r.client, r.datasetID, runID, stats)
}

func (r *Repository) MarkReportRunFailed(ctx context.Context, runID string, runErr error) {
	MarkReportRunFailedWithClient(ctx, r.client, r.datasetID, runID, runErr)
}

func (r *Repository) ListReportRuns(ctx context.Context, report string, limit int) ([]*ReportRunRow, error) {
	return ListReportRunsWithClient(ctx, r.client, r.datasetID, report, limit)
}

func (r *Repository) InsertAgingSnapshots(ctx context.Context, rows []*AgingSnapshotRow) error {
	return InsertAgingSnapshotsWithClient(ctx, r.client, r.datasetID, rows)
}

func (r *Repository) QueryAgingSnapshots(ctx context.Context, report string, start, end civil.Date) ([]*AgingSnapshotRow, error) {
	return QueryAgingSnapshotsWithClient(ctx, r.client, r.datasetID, report, start, end)
}

var (
	_ RunRepository      = (*Repository)(nil)
	_ SnapshotRepository = (*Repository)(nil)
)
