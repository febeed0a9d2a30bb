package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
)

const agingSnapshotsTable = "aging_snapshots"

type AgingSnapshotRow = bq.AgingSnapshotRow

// InsertAgingSnapshotsWithClient streams a batch of snapshot rows.
func InsertAgingSnapshotsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, rows []*AgingSnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.Dataset(datasetID).Table(agingSnapshotsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertAgingSnapshots: inserting rows: %w", err)
	}
	return nil
}

// QueryAgingSnapshotsWithClient returns snapshots for report whose as_of
// falls within [start, end], keeping only the latest run per date.
func QueryAgingSnapshotsWithClient(ctx context.Context, client *bigquery.Client, datasetID, report string, start, end civil.Date) ([]*AgingSnapshotRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			s.run_id,
			s.report,
			s.as_of,
			s.aging_interval,
			s.balance,
			s.record_count,
			s.created_ts
		FROM %[1]s.%[2]s s
		INNER JOIN %[1]s.%[3]s r
		  ON s.run_id = r.run_id
		WHERE s.report = @report
		  AND s.as_of >= @start_date
		  AND s.as_of <= @end_date
		  AND r.status = 'SUCCESS'
		QUALIFY ROW_NUMBER() OVER (
			PARTITION BY s.as_of, s.aging_interval
			ORDER BY s.created_ts DESC
		) = 1
		ORDER BY s.as_of, s.aging_interval
	`, datasetID, agingSnapshotsTable, reportRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "report", Value: report},
		{Name: "start_date", Value: start},
		{Name: "end_date", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryAgingSnapshots: query read: %w", err)
	}

	var rows []*AgingSnapshotRow
	for {
		var r AgingSnapshotRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryAgingSnapshots: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}
