package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
	"github.com/dvloznov/ops-review/internal/cache"
	"github.com/dvloznov/ops-review/internal/export"
	"github.com/dvloznov/ops-review/internal/loader"
	"github.com/dvloznov/ops-review/internal/pipeline"
)

const arAgingCSV = `A/R Aging Detail
Acme Builders
As of Jan 31 2024
Date,Due Date,Past Due,Transaction Type,Num,Customer,Amount
01/05/2024,01/10/2024,21,Invoice,1001,acme corp:kitchen,100.00
12/01/2023,12/15/2023,47,Invoice,1002,beta llc,"1,000.00"
01/20/2024,02/20/2024,-20,Invoice,1003,acme corp,50
01/25/2024,,,Payment,1004,acme corp,-25
`

// countingSource serves fixed CSV documents and counts fetches.
type countingSource struct {
	docs  []loader.Document
	err   error
	calls int
}

func (s *countingSource) Describe() string { return "test source" }

func (s *countingSource) Fetch(ctx context.Context) ([]loader.Document, error) {
	s.calls++
	return s.docs, s.err
}

func csvSource(name, body string) *countingSource {
	return &countingSource{docs: []loader.Document{{Name: name, Format: loader.FormatCSV, Data: []byte(body)}}}
}

type fakeSources map[pipeline.ReportType]loader.Source

func (f fakeSources) Source(report pipeline.ReportType) (loader.Source, error) {
	if s, ok := f[report]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("Source: %s: %w", report, loader.ErrSourceUnavailable)
}

// mockRunRepository is a hand-written RunRepository.
type mockRunRepository struct {
	started   []string
	succeeded map[string]bq.RunStats
	failed    map[string]error
}

func newMockRunRepository() *mockRunRepository {
	return &mockRunRepository{succeeded: map[string]bq.RunStats{}, failed: map[string]error{}}
}

func (m *mockRunRepository) StartReportRun(ctx context.Context, report, source string) (string, error) {
	id := fmt.Sprintf("run-%d", len(m.started)+1)
	m.started = append(m.started, report)
	return id, nil
}

func (m *mockRunRepository) MarkReportRunSucceeded(ctx context.Context, runID string, stats bq.RunStats) error {
	m.succeeded[runID] = stats
	return nil
}

func (m *mockRunRepository) MarkReportRunFailed(ctx context.Context, runID string, runErr error) {
	m.failed[runID] = runErr
}

func (m *mockRunRepository) ListReportRuns(ctx context.Context, report string, limit int) ([]*bq.ReportRunRow, error) {
	return []*bq.ReportRunRow{{RunID: "run-1", Report: report}}, nil
}

// mockSnapshotRepository is a hand-written SnapshotRepository.
type mockSnapshotRepository struct {
	inserted  []*bq.AgingSnapshotRow
	QueryFunc func(ctx context.Context, report string, start, end civil.Date) ([]*bq.AgingSnapshotRow, error)
}

func (m *mockSnapshotRepository) InsertAgingSnapshots(ctx context.Context, rows []*bq.AgingSnapshotRow) error {
	m.inserted = append(m.inserted, rows...)
	return nil
}

func (m *mockSnapshotRepository) QueryAgingSnapshots(ctx context.Context, report string, start, end civil.Date) ([]*bq.AgingSnapshotRow, error) {
	return m.QueryFunc(ctx, report, start, end)
}

func newTestService(sources fakeSources, runs bq.RunRepository, snaps bq.SnapshotRepository) *Service {
	s := NewService(sources, cache.NewMemoryCache(time.Minute), runs, snaps)
	s.now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestService_Build(t *testing.T) {
	src := csvSource("aging.csv", arAgingCSV)
	svc := newTestService(fakeSources{pipeline.ReportARAging: src}, nil, nil)
	ctx := context.Background()

	rep, _, err := svc.Build(ctx, pipeline.ReportARAging, pipeline.Request{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(rep.Records) != 3 {
		t.Fatalf("expected 3 outstanding records, got %d", len(rep.Records))
	}
	if rep.Rows[0][pipeline.FieldCustomer] != "Acme Corp" || rep.Rows[0][pipeline.FieldDescription] != "Kitchen" {
		t.Errorf("unexpected first row %v", rep.Rows[0])
	}

	seg := pipeline.Segment31To60
	rep, _, err = svc.Build(ctx, pipeline.ReportARAging, pipeline.Request{
		Criteria: pipeline.Criteria{Segments: []pipeline.Segment{seg}},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(rep.Records) != 1 || rep.Records[0].Text[pipeline.FieldNumber] != "1002" {
		t.Errorf("segment filter returned %d records", len(rep.Records))
	}

	if src.calls != 1 {
		t.Errorf("source fetched %d times, want 1 (cached)", src.calls)
	}
}

func TestService_Build_EmptySources(t *testing.T) {
	tests := []struct {
		name    string
		sources fakeSources
		message string
	}{
		{
			name:    "not configured",
			sources: fakeSources{},
			message: UnavailableMessage,
		},
		{
			name:    "fetch failure",
			sources: fakeSources{pipeline.ReportARAging: &countingSource{err: errors.New("403 forbidden")}},
			message: UnavailableMessage,
		},
		{
			name:    "header only",
			sources: fakeSources{pipeline.ReportARAging: csvSource("a.csv", "x\ny\nz\nDate,Amount\n")},
			message: NoDataMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.sources, nil, nil)
			rep, _, err := svc.Build(context.Background(), pipeline.ReportARAging, pipeline.Request{})
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if !rep.Empty || rep.Message != tt.message {
				t.Errorf("got empty=%v message=%q, want message %q", rep.Empty, rep.Message, tt.message)
			}
		})
	}
}

func TestService_Build_Errors(t *testing.T) {
	svc := newTestService(fakeSources{
		pipeline.ReportTimesheet: csvSource("t.csv", "Date,Nome\n01/01/2024,Ana\n"),
	}, nil, nil)

	_, _, err := svc.Build(context.Background(), "payroll", pipeline.Request{})
	if !errors.Is(err, pipeline.ErrUnknownReport) {
		t.Errorf("expected ErrUnknownReport, got %v", err)
	}

	_, _, err = svc.Build(context.Background(), pipeline.ReportTimesheet, pipeline.Request{})
	if !errors.Is(err, pipeline.ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
}

func TestService_Refresh(t *testing.T) {
	src := csvSource("aging.csv", arAgingCSV)
	runs := newMockRunRepository()
	snaps := &mockSnapshotRepository{}
	svc := newTestService(fakeSources{pipeline.ReportARAging: src}, runs, snaps)
	ctx := context.Background()

	if _, _, err := svc.Build(ctx, pipeline.ReportARAging, pipeline.Request{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	res, err := svc.Refresh(ctx, pipeline.ReportARAging)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("refresh should bypass the cache, source fetched %d times", src.calls)
	}

	want := bq.RunStats{RowsIn: 4, Kept: 3, Skipped: 1}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
	if got := runs.succeeded[res.RunID]; got != want {
		t.Errorf("recorded stats = %+v, want %+v", got, want)
	}

	if len(snaps.inserted) != 3 {
		t.Fatalf("expected 3 snapshot rows, got %d", len(snaps.inserted))
	}
	labels := []string{"Current", "1-30", "31-60"}
	balances := []string{"50.00", "100.00", "1000.00"}
	for i, row := range snaps.inserted {
		if row.Interval != labels[i] || row.Balance.FloatString(2) != balances[i] {
			t.Errorf("snapshot %d = %s %s, want %s %s", i, row.Interval, row.Balance.FloatString(2), labels[i], balances[i])
		}
		if row.AsOf != (civil.Date{Year: 2024, Month: 2, Day: 1}) || row.RunID != res.RunID {
			t.Errorf("snapshot %d has as_of %v run %s", i, row.AsOf, row.RunID)
		}
	}
}

func TestService_Refresh_Failure(t *testing.T) {
	runs := newMockRunRepository()
	svc := newTestService(fakeSources{
		pipeline.ReportPermits: &countingSource{err: errors.New("timeout")},
	}, runs, nil)

	_, err := svc.Refresh(context.Background(), pipeline.ReportPermits)
	if !errors.Is(err, loader.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if len(runs.failed) != 1 {
		t.Errorf("expected the run to be marked failed, got %v", runs.failed)
	}
}

func TestService_RefreshAll_SkipsUnconfigured(t *testing.T) {
	src := csvSource("aging.csv", arAgingCSV)
	runs := newMockRunRepository()
	svc := newTestService(fakeSources{pipeline.ReportARAging: src}, runs, nil)

	if err := svc.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	if len(runs.started) != 1 || runs.started[0] != string(pipeline.ReportARAging) {
		t.Errorf("started runs = %v", runs.started)
	}
}

func TestService_Options(t *testing.T) {
	svc := newTestService(fakeSources{pipeline.ReportARAging: csvSource("aging.csv", arAgingCSV)}, nil, nil)

	opts, err := svc.Options(context.Background(), pipeline.ReportARAging, 0, 0)
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}
	if len(opts.Years) != 2 || opts.Years[0] != 2023 {
		t.Errorf("years = %v, want [2023 2024]", opts.Years)
	}

	empty := newTestService(fakeSources{}, nil, nil)
	opts, err = empty.Options(context.Background(), pipeline.ReportARAging, 0, 0)
	if err != nil {
		t.Fatalf("Options without source failed: %v", err)
	}
	if len(opts.Years) != 0 || opts.DefaultYear != 0 {
		t.Errorf("unexpected options without data: %+v", opts)
	}
}

const plCSV = `Acme Builders
Profit and Loss
January 2024
,Total
Income,
Sales,"12,000.00"
Total Income,"12,000.00"
Expenses,
Rent,"1,500.00"
Total Expenses,"1,500.00"
Net Income,"10,500.00"
`

func TestService_ProfitLoss(t *testing.T) {
	src := &countingSource{docs: []loader.Document{
		{Name: "PL_01-24.csv", Format: loader.FormatCSV, Data: []byte(plCSV)},
		{Name: "PL_02-24.csv", Format: loader.FormatCSV, Data: []byte(plCSV)},
		{Name: "notes.csv", Format: loader.FormatCSV, Data: []byte("a,b\n1,2\n")},
	}}
	svc := newTestService(fakeSources{pipeline.ReportProfitLoss: src}, nil, nil)

	rep, _, err := svc.Build(context.Background(), pipeline.ReportProfitLoss, pipeline.Request{GroupBy: "month"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(rep.Records) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(rep.Records))
	}
	if len(rep.Groups) != 2 {
		t.Fatalf("expected 2 months, got %d", len(rep.Groups))
	}
	if got := rep.Groups[0].Sum(pipeline.FieldAmount).String(); got != "10500" {
		t.Errorf("January net = %s, want 10500", got)
	}
	if got := rep.Records[0].Value(pipeline.FieldDetail); got != "Sales" {
		t.Errorf("first line = %q, want Sales", got)
	}
}

const daysSalesCSV = `Invoice list
Acme Builders
All dates
Date,Due date,Paid date,Customer,Amount
01/01/2024,01/31/2024,01/11/2024,Acme,100.00
01/01/2024,,01/21/2024,Beta,200.00
01/02/2024,,,Gamma,300.00
`

func TestService_Series(t *testing.T) {
	t.Run("aging balance", func(t *testing.T) {
		svc := newTestService(fakeSources{pipeline.ReportARAging: csvSource("aging.csv", arAgingCSV)}, nil, nil)

		got, err := svc.Series(context.Background(), pipeline.ReportARAging, pipeline.Request{GroupBy: "month"}, false)
		if err != nil {
			t.Fatalf("Series failed: %v", err)
		}
		if got.Records != 3 || len(got.Balance) != 3 {
			t.Fatalf("summary = %+v", got)
		}
		total := decimal.Zero
		for _, p := range got.Balance {
			total = total.Add(p.Value)
		}
		if !total.Equal(decimal.NewFromInt(1150)) {
			t.Errorf("balance total = %s, want 1150", total)
		}
	})

	t.Run("days taken", func(t *testing.T) {
		svc := newTestService(fakeSources{pipeline.ReportDaysSales: csvSource("sales.csv", daysSalesCSV)}, nil, nil)

		got, err := svc.Series(context.Background(), pipeline.ReportDaysSales, pipeline.Request{}, false)
		if err != nil {
			t.Fatalf("Series failed: %v", err)
		}
		if got.AverageDays == nil || !got.AverageDays.Equal(decimal.NewFromInt(15)) {
			t.Errorf("average days = %v, want 15", got.AverageDays)
		}
		if got.Balance != nil {
			t.Errorf("days sales should have no balance series, got %+v", got.Balance)
		}
	})

	t.Run("unknown report", func(t *testing.T) {
		svc := newTestService(fakeSources{}, nil, nil)
		if _, err := svc.Series(context.Background(), "nope", pipeline.Request{}, false); !errors.Is(err, pipeline.ErrUnknownReport) {
			t.Errorf("expected ErrUnknownReport, got %v", err)
		}
	})
}

func TestService_ExportDaysTaken(t *testing.T) {
	svc := newTestService(fakeSources{pipeline.ReportDaysSales: csvSource("sales.csv", daysSalesCSV)}, nil, nil)

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), pipeline.ReportDaysSales, pipeline.Request{}, export.FormatCSV, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 paid rows, got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[0], ",Days Taken") {
		t.Errorf("header = %q, want trailing Days Taken column", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",10") {
		t.Errorf("first row = %q, want 10 days taken", lines[1])
	}
}

func TestService_Export(t *testing.T) {
	svc := newTestService(fakeSources{pipeline.ReportARAging: csvSource("aging.csv", arAgingCSV)}, nil, nil)

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), pipeline.ReportARAging, pipeline.Request{}, export.FormatCSV, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("expected header and 3 rows, got %d lines", len(lines))
	}
}

func TestService_History(t *testing.T) {
	disabled := newTestService(fakeSources{}, nil, nil)
	start, end := civil.Date{Year: 2024, Month: 1, Day: 1}, civil.Date{Year: 2024, Month: 12, Day: 31}
	if _, err := disabled.History(context.Background(), pipeline.ReportARAging, start, end); !errors.Is(err, ErrHistoryDisabled) {
		t.Errorf("expected ErrHistoryDisabled, got %v", err)
	}

	snaps := &mockSnapshotRepository{QueryFunc: func(ctx context.Context, report string, s, e civil.Date) ([]*bq.AgingSnapshotRow, error) {
		jan := civil.Date{Year: 2024, Month: 1, Day: 31}
		feb := civil.Date{Year: 2024, Month: 2, Day: 29}
		return []*bq.AgingSnapshotRow{
			{AsOf: feb, Interval: "1-30", Balance: ratOf("5")},
			{AsOf: jan, Interval: "31-60", Balance: ratOf("7.5")},
			{AsOf: jan, Interval: "Current", Balance: ratOf("10")},
		}, nil
	}}
	svc := newTestService(fakeSources{}, nil, snaps)

	points, err := svc.History(context.Background(), pipeline.ReportARAging, start, end)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	order := []string{"Current", "31-60", "1-30"}
	for i, p := range points {
		if p.Series != order[i] {
			t.Errorf("point %d series = %s, want %s", i, p.Series, order[i])
		}
	}
	if points[1].Value.String() != "7.5" {
		t.Errorf("31-60 value = %s, want 7.5", points[1].Value)
	}
}
