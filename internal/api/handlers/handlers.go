package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ops-review/internal/api/middleware"
	bq "github.com/dvloznov/ops-review/internal/bigquery"
	"github.com/dvloznov/ops-review/internal/export"
	"github.com/dvloznov/ops-review/internal/jobs"
	"github.com/dvloznov/ops-review/internal/loader"
	"github.com/dvloznov/ops-review/internal/pipeline"
	"github.com/dvloznov/ops-review/internal/report"
)

// historyWindow is the default span of the aging history endpoint.
const historyWindow = 365

// ReportService is the part of report.Service the HTTP API uses.
type ReportService interface {
	Build(ctx context.Context, r pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error)
	Options(ctx context.Context, r pipeline.ReportType, year, month int) (pipeline.Options, error)
	Export(ctx context.Context, r pipeline.ReportType, req pipeline.Request, format export.Format, w io.Writer) error
	Series(ctx context.Context, r pipeline.ReportType, req pipeline.Request, bySegment bool) (pipeline.Summary, error)
	History(ctx context.Context, r pipeline.ReportType, start, end civil.Date) ([]pipeline.Point, error)
	Runs(ctx context.Context, r string, limit int) ([]*bq.ReportRunRow, error)
}

// Catalog lists the reports the API serves.
type Catalog interface {
	Entries() []report.Entry
}

// ReportsHandler handles report endpoints.
type ReportsHandler struct {
	service   ReportService
	catalog   Catalog
	publisher jobs.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewReportsHandler creates a new reports handler. A nil publisher disables
// the refresh endpoint.
func NewReportsHandler(service ReportService, catalog Catalog, publisher jobs.Publisher, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		service:   service,
		catalog:   catalog,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// ListReports handles GET /api/reports
func (h *ReportsHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	entries := h.catalog.Entries()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reports": entries,
		"count":   len(entries),
	})
}

// Route dispatches /api/reports/{type}[/action] requests.
func (h *ReportsHandler) Route(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/")
	if rest == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Report type is required")
		return
	}

	reportType, action, _ := strings.Cut(rest, "/")
	rt := pipeline.ReportType(reportType)

	method := http.MethodGet
	if action == "refresh" {
		method = http.MethodPost
	}
	if r.Method != method {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch action {
	case "":
		h.GetReport(w, r, rt)
	case "groups":
		h.GetGroups(w, r, rt)
	case "options":
		h.GetOptions(w, r, rt)
	case "series":
		h.GetSeries(w, r, rt)
	case "export":
		h.ExportReport(w, r, rt)
	case "history":
		h.GetHistory(w, r, rt)
	case "runs":
		h.ListRuns(w, r, rt)
	case "refresh":
		h.RefreshReport(w, r, rt)
	default:
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	}
}

// GetReport handles GET /api/reports/{type}
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	req, err := ParseRequest(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Grouping has its own endpoint.
	req.GroupBy = ""

	rep, _, err := h.service.Build(r.Context(), rt, req)
	if err != nil {
		h.writeServiceError(w, err, rt, "Failed to build report")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"report":     rep.Report,
		"rows":       rep.Rows,
		"count":      len(rep.Rows),
		"rejections": len(rep.Rejections),
		"empty":      rep.Empty,
		"message":    rep.Message,
	})
}

// GetSeries handles GET /api/reports/{type}/series?split=segment&month_end=true
func (h *ReportsHandler) GetSeries(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	q := r.URL.Query()
	req, err := ParseRequest(q)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var bySegment bool
	switch split := q.Get("split"); split {
	case "":
	case "segment":
		bySegment = true
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Invalid split: "+split)
		return
	}

	sum, err := h.service.Series(r.Context(), rt, req, bySegment)
	if err != nil {
		h.writeServiceError(w, err, rt, "Failed to build series")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, sum)
}

// GetGroups handles GET /api/reports/{type}/groups?by=...&sum=...
func (h *ReportsHandler) GetGroups(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	req, err := ParseRequest(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.GroupBy == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Parameter by is required")
		return
	}

	rep, schema, err := h.service.Build(r.Context(), rt, req)
	if err != nil {
		h.writeServiceError(w, err, rt, "Failed to group report")
		return
	}

	fields := req.Sum
	if len(fields) == 0 {
		fields = schema.SumFields
	}
	totals := make(map[pipeline.Field]string, len(fields))
	for _, f := range fields {
		totals[f] = pipeline.Total(rep.Groups, f).StringFixed(2)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"report":  rep.Report,
		"by":      req.GroupBy,
		"groups":  rep.Groups,
		"count":   len(rep.Groups),
		"totals":  totals,
		"empty":   rep.Empty,
		"message": rep.Message,
	})
}

// GetOptions handles GET /api/reports/{type}/options
func (h *ReportsHandler) GetOptions(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	q := r.URL.Query()
	year := queryInt(q, "year", 0)
	month := pipeline.MonthCompleteYear
	if v := q.Get("month"); v != "" {
		m, err := parseMonth(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		month = m
	}

	opts, err := h.service.Options(r.Context(), rt, year, month)
	if err != nil {
		h.writeServiceError(w, err, rt, "Failed to derive options")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, opts)
}

// ExportReport handles GET /api/reports/{type}/export?format=xlsx|csv
func (h *ReportsHandler) ExportReport(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := ParseRequest(q)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Buffer so a failure can still produce a JSON error.
	buf := &bytes.Buffer{}
	if err := h.service.Export(r.Context(), rt, req, format, buf); err != nil {
		h.writeServiceError(w, err, rt, "Failed to export report")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(rt)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Error().Err(err).Str("report", string(rt)).Msg("Failed to write export")
	}
}

// GetHistory handles GET /api/reports/{type}/history?start=...&end=...
// Without bounds it covers the last year.
func (h *ReportsHandler) GetHistory(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	q := r.URL.Query()
	end := civil.DateOf(h.now())
	start := end.AddDays(-historyWindow)
	if q.Get("start") != "" || q.Get("end") != "" {
		c, err := ParseCriteria(q)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		start, end = c.DateRange.Start, c.DateRange.End
	}

	points, err := h.service.History(r.Context(), rt, start, end)
	if err != nil {
		h.writeServiceError(w, err, rt, "Failed to load history")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"report": rt,
		"start":  start,
		"end":    end,
		"points": points,
		"count":  len(points),
	})
}

// ListRuns handles GET /api/reports/{type}/runs
func (h *ReportsHandler) ListRuns(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	if _, err := pipeline.LookupSchema(rt); err != nil {
		h.writeServiceError(w, err, rt, "Failed to list runs")
		return
	}

	runs, err := h.service.Runs(r.Context(), string(rt), queryInt(r.URL.Query(), "limit", 0))
	if err != nil {
		h.writeServiceError(w, err, rt, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*bq.ReportRunRow{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// RefreshReport handles POST /api/reports/{type}/refresh
func (h *ReportsHandler) RefreshReport(w http.ResponseWriter, r *http.Request, rt pipeline.ReportType) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Refresh is not enabled")
		return
	}
	if _, err := pipeline.LookupSchema(rt); err != nil {
		h.writeServiceError(w, err, rt, "Failed to refresh report")
		return
	}

	job := &jobs.RefreshReportJob{
		JobID:     uuid.NewString(),
		Report:    string(rt),
		Trigger:   jobs.TriggerAPI,
		Status:    jobs.JobStatusPending,
		CreatedAt: h.now(),
	}
	// The job belongs to the queue once published.
	jobID, status := job.JobID, job.Status
	if err := h.publisher.PublishRefreshReport(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("report", string(rt)).Msg("Failed to enqueue refresh job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue refresh job")
		return
	}

	h.log.Info().
		Str("job_id", jobID).
		Str("report", string(rt)).
		Msg("Refresh job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  jobID,
		"report":  rt,
		"status":  status,
		"message": "Refresh job enqueued",
	})
}

// writeServiceError maps pipeline and loader errors onto status codes.
func (h *ReportsHandler) writeServiceError(w http.ResponseWriter, err error, rt pipeline.ReportType, msg string) {
	status := statusFor(err)
	ev := h.log.Error()
	if status < http.StatusInternalServerError {
		ev = h.log.Warn()
	}
	ev.Err(err).Str("report", string(rt)).Int("status", status).Msg(msg)

	switch status {
	case http.StatusInternalServerError:
		middleware.WriteError(w, status, msg)
	default:
		middleware.WriteError(w, status, err.Error())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownReport):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrMissingColumn):
		return http.StatusUnprocessableEntity
	case errors.Is(err, loader.ErrSourceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, report.ErrHistoryDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, pipeline.ErrInvalidCriteria):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Report: query.Get("report"),
		Status: jobs.JobStatus(query.Get("status")),
		Limit:  queryInt(query, "limit", 0),
		Offset: queryInt(query, "offset", 0),
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
