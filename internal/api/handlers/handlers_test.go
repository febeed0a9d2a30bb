package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
	"github.com/dvloznov/ops-review/internal/export"
	"github.com/dvloznov/ops-review/internal/jobs"
	"github.com/dvloznov/ops-review/internal/jobs/inmemory"
	"github.com/dvloznov/ops-review/internal/loader"
	"github.com/dvloznov/ops-review/internal/pipeline"
	"github.com/dvloznov/ops-review/internal/report"
)

// mockService is a mock implementation of ReportService for testing.
type mockService struct {
	BuildFunc   func(ctx context.Context, r pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error)
	OptionsFunc func(ctx context.Context, r pipeline.ReportType, year, month int) (pipeline.Options, error)
	ExportFunc  func(ctx context.Context, r pipeline.ReportType, req pipeline.Request, format export.Format, w io.Writer) error
	SeriesFunc  func(ctx context.Context, r pipeline.ReportType, req pipeline.Request, bySegment bool) (pipeline.Summary, error)
	HistoryFunc func(ctx context.Context, r pipeline.ReportType, start, end civil.Date) ([]pipeline.Point, error)
	RunsFunc    func(ctx context.Context, r string, limit int) ([]*bq.ReportRunRow, error)
}

func (m *mockService) Build(ctx context.Context, r pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error) {
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, r, req)
	}
	return &pipeline.Report{Report: r, Empty: true, Message: pipeline.EmptyMessage}, pipeline.Schema{}, nil
}

func (m *mockService) Options(ctx context.Context, r pipeline.ReportType, year, month int) (pipeline.Options, error) {
	if m.OptionsFunc != nil {
		return m.OptionsFunc(ctx, r, year, month)
	}
	return pipeline.Options{}, nil
}

func (m *mockService) Export(ctx context.Context, r pipeline.ReportType, req pipeline.Request, format export.Format, w io.Writer) error {
	if m.ExportFunc != nil {
		return m.ExportFunc(ctx, r, req, format, w)
	}
	return nil
}

func (m *mockService) Series(ctx context.Context, r pipeline.ReportType, req pipeline.Request, bySegment bool) (pipeline.Summary, error) {
	if m.SeriesFunc != nil {
		return m.SeriesFunc(ctx, r, req, bySegment)
	}
	return pipeline.Summary{Report: r}, nil
}

func (m *mockService) History(ctx context.Context, r pipeline.ReportType, start, end civil.Date) ([]pipeline.Point, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, r, start, end)
	}
	return nil, nil
}

func (m *mockService) Runs(ctx context.Context, r string, limit int) ([]*bq.ReportRunRow, error) {
	if m.RunsFunc != nil {
		return m.RunsFunc(ctx, r, limit)
	}
	return nil, nil
}

type staticCatalog []report.Entry

func (c staticCatalog) Entries() []report.Entry { return c }

// mockPublisher records published jobs.
type mockPublisher struct {
	jobs []*jobs.RefreshReportJob
	err  error
}

func (m *mockPublisher) PublishRefreshReport(ctx context.Context, job *jobs.RefreshReportJob) error {
	if m.err != nil {
		return m.err
	}
	if job.JobID == "" {
		job.JobID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func newTestHandler(svc ReportService, pub jobs.Publisher) *ReportsHandler {
	h := NewReportsHandler(svc, staticCatalog{
		{Report: pipeline.ReportARAging, Title: "Receivables aging", Configured: true},
		{Report: pipeline.ReportPermits, Title: "Permits", Configured: false},
	}, pub, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC) }
	return h
}

func serve(h *ReportsHandler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Route(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body
}

func TestListReports(t *testing.T) {
	h := newTestHandler(&mockService{}, nil)
	rec := httptest.NewRecorder()
	h.ListReports(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestGetReport(t *testing.T) {
	var got pipeline.Request
	svc := &mockService{
		BuildFunc: func(ctx context.Context, r pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error) {
			got = req
			return &pipeline.Report{
				Report: r,
				Rows:   []pipeline.Row{{pipeline.FieldCustomer: "Acme Corp"}},
			}, pipeline.Schema{}, nil
		},
	}
	h := newTestHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/api/reports/ar_aging?year=2024&month=3&segment=1-30&in.customer=Acme%20Corp&by=month")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if got.Criteria.Year == nil || *got.Criteria.Year != 2024 || got.Criteria.Month == nil || *got.Criteria.Month != 3 {
		t.Errorf("criteria year/month = %v/%v", got.Criteria.Year, got.Criteria.Month)
	}
	if len(got.Criteria.Segments) != 1 || got.Criteria.Segments[0] != pipeline.Segment1To30 {
		t.Errorf("segments = %v", got.Criteria.Segments)
	}
	if got.GroupBy != "" {
		t.Errorf("records endpoint should not group, got %q", got.GroupBy)
	}

	body := decode(t, rec)
	if body["count"].(float64) != 1 || body["empty"].(bool) {
		t.Errorf("unexpected body %v", body)
	}
}

func TestGetReport_EmptyMessage(t *testing.T) {
	h := newTestHandler(&mockService{}, nil)
	rec := serve(h, http.MethodGet, "/api/reports/timesheet?category=Nothing")

	body := decode(t, rec)
	if !body["empty"].(bool) || body["message"] != pipeline.EmptyMessage {
		t.Errorf("unexpected body %v", body)
	}
}

func TestGetReport_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"bad month", "/api/reports/ar_aging?month=13", nil, http.StatusBadRequest},
		{"bad year", "/api/reports/ar_aging?year=abc", nil, http.StatusBadRequest},
		{"bad segment", "/api/reports/ar_aging?segment=old", nil, http.StatusBadRequest},
		{"half range", "/api/reports/ar_aging?start=2024-01-01", nil, http.StatusBadRequest},
		{"unknown report", "/api/reports/nope", fmt.Errorf("Build: %w", pipeline.ErrUnknownReport), http.StatusNotFound},
		{"missing column", "/api/reports/ar_aging", &pipeline.MissingColumnError{Report: "ar_aging", Columns: []string{"Date"}}, http.StatusUnprocessableEntity},
		{"unavailable", "/api/reports/ar_aging", fmt.Errorf("Build: %w", loader.ErrSourceUnavailable), http.StatusBadGateway},
		{"internal", "/api/reports/ar_aging", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{
				BuildFunc: func(ctx context.Context, r pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error) {
					if tt.err != nil {
						return nil, pipeline.Schema{}, tt.err
					}
					return &pipeline.Report{Report: r}, pipeline.Schema{}, nil
				},
			}
			rec := serve(newTestHandler(svc, nil), http.MethodGet, tt.target)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGetGroups(t *testing.T) {
	svc := &mockService{
		BuildFunc: func(ctx context.Context, r pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error) {
			if req.GroupBy != "team" || !req.SortByCount {
				t.Errorf("request = %+v", req)
			}
			groups := []pipeline.Group{
				{Key: pipeline.Key{Label: "Roofing"}, Count: 3, Sums: map[pipeline.Field]decimal.Decimal{pipeline.FieldRemoveValue: decimal.RequireFromString("137.5")}},
				{Key: pipeline.Key{Label: "Framing"}, Count: 2, Sums: map[pipeline.Field]decimal.Decimal{pipeline.FieldRemoveValue: decimal.NewFromInt(10)}},
			}
			return &pipeline.Report{Report: r, Groups: groups}, pipeline.Schema{SumFields: []pipeline.Field{pipeline.FieldRemoveValue}}, nil
		},
	}
	h := newTestHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/api/reports/timesheet/groups?by=team&sort=count")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	totals := body["totals"].(map[string]interface{})
	if totals[string(pipeline.FieldRemoveValue)] != "147.50" {
		t.Errorf("totals = %v", totals)
	}

	if rec := serve(h, http.MethodGet, "/api/reports/timesheet/groups"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing by: status = %d, want 400", rec.Code)
	}
}

func TestGetOptions(t *testing.T) {
	svc := &mockService{
		OptionsFunc: func(ctx context.Context, r pipeline.ReportType, year, month int) (pipeline.Options, error) {
			if year != 2023 || month != pipeline.MonthCompleteYear {
				t.Errorf("year/month = %d/%d", year, month)
			}
			return pipeline.Options{Years: []int{2023, 2024}, DefaultYear: 2024}, nil
		},
	}
	rec := serve(newTestHandler(svc, nil), http.MethodGet, "/api/reports/accounting/options?year=2023&month=all")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["default_year"].(float64) != 2024 {
		t.Errorf("body = %v", body)
	}
}

func TestExportReport(t *testing.T) {
	svc := &mockService{
		ExportFunc: func(ctx context.Context, r pipeline.ReportType, req pipeline.Request, format export.Format, w io.Writer) error {
			if format != export.FormatCSV {
				t.Errorf("format = %s", format)
			}
			_, err := io.WriteString(w, "Date,Customer\n03/09/2024,Acme\n")
			return err
		},
	}
	h := newTestHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/api/reports/ar_aging/export?format=csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/csv" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Content-Disposition") != `attachment; filename="ar_aging.csv"` {
		t.Errorf("disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "Date,Customer\n03/09/2024,Acme\n" {
		t.Errorf("body = %q", rec.Body.String())
	}

	if rec := serve(h, http.MethodGet, "/api/reports/ar_aging/export?format=pdf"); rec.Code != http.StatusBadRequest {
		t.Errorf("pdf: status = %d, want 400", rec.Code)
	}
}

func TestGetHistory(t *testing.T) {
	var gotStart, gotEnd civil.Date
	svc := &mockService{
		HistoryFunc: func(ctx context.Context, r pipeline.ReportType, start, end civil.Date) ([]pipeline.Point, error) {
			gotStart, gotEnd = start, end
			return []pipeline.Point{{Date: end, Series: "Current", Value: decimal.NewFromInt(50)}}, nil
		},
	}
	h := newTestHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/api/reports/ar_aging/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotEnd != (civil.Date{Year: 2024, Month: 6, Day: 30}) || gotStart != gotEnd.AddDays(-historyWindow) {
		t.Errorf("default window = %s..%s", gotStart, gotEnd)
	}

	serve(h, http.MethodGet, "/api/reports/ar_aging/history?start=2024-01-01&end=01/31/2024")
	if gotStart.String() != "2024-01-01" || gotEnd.String() != "2024-01-31" {
		t.Errorf("explicit window = %s..%s", gotStart, gotEnd)
	}

	svc.HistoryFunc = func(ctx context.Context, r pipeline.ReportType, start, end civil.Date) ([]pipeline.Point, error) {
		return nil, report.ErrHistoryDisabled
	}
	if rec := serve(h, http.MethodGet, "/api/reports/ar_aging/history"); rec.Code != http.StatusNotImplemented {
		t.Errorf("disabled: status = %d, want 501", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	svc := &mockService{
		RunsFunc: func(ctx context.Context, r string, limit int) ([]*bq.ReportRunRow, error) {
			if r != "ar_aging" || limit != 5 {
				t.Errorf("report/limit = %s/%d", r, limit)
			}
			return []*bq.ReportRunRow{{RunID: "run-1", Report: r, Status: bq.RunStatusSuccess}}, nil
		},
	}
	h := newTestHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/api/reports/ar_aging/runs?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["count"].(float64) != 1 {
		t.Errorf("body = %v", body)
	}

	if rec := serve(h, http.MethodGet, "/api/reports/nope/runs"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown report: status = %d, want 404", rec.Code)
	}
}

func TestGetSeries(t *testing.T) {
	var gotReq pipeline.Request
	var gotSplit bool
	avg := decimal.RequireFromString("12.5")
	svc := &mockService{SeriesFunc: func(ctx context.Context, r pipeline.ReportType, req pipeline.Request, bySegment bool) (pipeline.Summary, error) {
		gotReq, gotSplit = req, bySegment
		return pipeline.Summary{
			Report:      r,
			Records:     3,
			Balance:     []pipeline.Point{{Date: civil.Date{Year: 2024, Month: 1, Day: 31}, Series: "Current", Value: decimal.NewFromInt(20)}},
			Counts:      []pipeline.Count{{Value: pipeline.SituationIssued, Count: 2}},
			AverageDays: &avg,
		}, nil
	}}
	h := newTestHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/api/reports/ar_aging/series?split=segment&month_end=true&year=2024")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !gotSplit || !gotReq.MonthEnd || gotReq.Criteria.Year == nil || *gotReq.Criteria.Year != 2024 {
		t.Errorf("request = %+v, split = %v", gotReq, gotSplit)
	}

	body := decode(t, rec)
	if body["records"] != float64(3) || body["average_days"] != "12.5" {
		t.Errorf("body = %v", body)
	}
	balance, _ := body["balance"].([]interface{})
	if len(balance) != 1 {
		t.Errorf("balance = %v", body["balance"])
	}
	counts, _ := body["counts"].([]interface{})
	if len(counts) != 1 {
		t.Errorf("counts = %v", body["counts"])
	}

	t.Run("invalid split", func(t *testing.T) {
		if rec := serve(h, http.MethodGet, "/api/reports/ar_aging/series?split=weekly"); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown report", func(t *testing.T) {
		svc := &mockService{SeriesFunc: func(ctx context.Context, r pipeline.ReportType, req pipeline.Request, bySegment bool) (pipeline.Summary, error) {
			return pipeline.Summary{}, fmt.Errorf("Series: %w", pipeline.ErrUnknownReport)
		}}
		h := newTestHandler(svc, nil)
		if rec := serve(h, http.MethodGet, "/api/reports/nope/series"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestRefreshReport(t *testing.T) {
	pub := &mockPublisher{}
	h := newTestHandler(&mockService{}, pub)

	rec := serve(h, http.MethodPost, "/api/reports/ap_aging/refresh")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.jobs) != 1 || pub.jobs[0].Report != "ap_aging" || pub.jobs[0].Trigger != jobs.TriggerAPI {
		t.Fatalf("published = %+v", pub.jobs)
	}
	body := decode(t, rec)
	if body["job_id"] == "" || body["job_id"] != pub.jobs[0].JobID || body["status"] != string(jobs.JobStatusPending) {
		t.Errorf("body = %v", body)
	}

	t.Run("wrong method", func(t *testing.T) {
		if rec := serve(h, http.MethodGet, "/api/reports/ap_aging/refresh"); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("unknown report", func(t *testing.T) {
		if rec := serve(h, http.MethodPost, "/api/reports/nope/refresh"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		h := newTestHandler(&mockService{}, &mockPublisher{err: errors.New("queue is closed")})
		if rec := serve(h, http.MethodPost, "/api/reports/ap_aging/refresh"); rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		h := newTestHandler(&mockService{}, nil)
		if rec := serve(h, http.MethodPost, "/api/reports/ap_aging/refresh"); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestRefreshReport_WithRunningQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := inmemory.NewStore()
	q := inmemory.NewQueue(100, store)
	defer q.Close()

	var handled atomic.Int32
	if err := q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		handled.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h := newTestHandler(&mockService{}, q)
	const n = 50
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		rec := serve(h, http.MethodPost, "/api/reports/ar_aging/refresh")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode(t, rec)
		if body["status"] != string(jobs.JobStatusPending) {
			t.Errorf("status = %v, want pending", body["status"])
		}
		id, _ := body["job_id"].(string)
		ids[id] = true
	}
	if len(ids) != n {
		t.Errorf("expected %d distinct job IDs, got %d", n, len(ids))
	}

	deadline := time.Now().Add(5 * time.Second)
	for handled.Load() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := handled.Load(); got != n {
		t.Errorf("handled %d jobs, want %d", got, n)
	}
}

func TestRoute_NotFound(t *testing.T) {
	h := newTestHandler(&mockService{}, nil)
	if rec := serve(h, http.MethodGet, "/api/reports/ar_aging/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/reports/"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestJobsHandler(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	for i, r := range []string{"ar_aging", "permits", "ar_aging"} {
		job := &jobs.RefreshReportJob{
			JobID:     fmt.Sprintf("job-%d", i),
			Report:    r,
			Status:    jobs.JobStatusCompleted,
			CreatedAt: time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC),
		}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}
	h := NewJobsHandler(store, zerolog.Nop())

	t.Run("list filtered", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?report=ar_aging", nil))
		if body := decode(t, rec); body["count"].(float64) != 2 {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil), "job-1")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decode(t, rec); body["report"] != "permits" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/none", nil), "none")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if body := decode(t, rec); body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}
