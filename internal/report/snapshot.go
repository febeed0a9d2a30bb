package report

import (
	"math/big"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
	"github.com/dvloznov/ops-review/internal/pipeline"
)

func hasAging(schema pipeline.Schema) bool {
	_, ok := schema.Column(pipeline.FieldPastDue)
	return ok
}

// SnapshotRows totals the balance of records per aging bucket as of asOf.
// Unclassified records are left out.
func SnapshotRows(runID string, schema pipeline.Schema, records []pipeline.Record, asOf civil.Date, created time.Time) []*bq.AgingSnapshotRow {
	field := schema.BalanceField()
	groups := pipeline.Aggregate(records, pipeline.BySegment, field)

	rows := make([]*bq.AgingSnapshotRow, 0, len(groups))
	for _, g := range groups {
		balance, _ := new(big.Rat).SetString(g.Sum(field).String())
		rows = append(rows, &bq.AgingSnapshotRow{
			RunID:     runID,
			Report:    string(schema.Report),
			AsOf:      asOf,
			Interval:  g.Key.Label,
			Balance:   balance,
			Count:     int64(g.Count),
			CreatedTS: created,
		})
	}
	return rows
}

// SnapshotPoints converts stored snapshots into a chart series split by
// bucket, in date then bucket order.
func SnapshotPoints(rows []*bq.AgingSnapshotRow) []pipeline.Point {
	points := make([]pipeline.Point, 0, len(rows))
	for _, r := range rows {
		v := decimal.Zero
		if r.Balance != nil {
			if d, err := decimal.NewFromString(r.Balance.FloatString(2)); err == nil {
				v = d
			}
		}
		points = append(points, pipeline.Point{Date: r.AsOf, Series: r.Interval, Value: v})
	}
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Date != points[j].Date {
			return points[i].Date.Before(points[j].Date)
		}
		return segmentRank(points[i].Series) < segmentRank(points[j].Series)
	})
	return points
}

func segmentRank(label string) int {
	seg, err := pipeline.ParseSegment(label)
	if err != nil {
		return len(pipeline.Segments())
	}
	return int(seg)
}
