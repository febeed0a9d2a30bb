// Package report loads report sources and runs them through the pipeline.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"

	bq "github.com/dvloznov/ops-review/internal/bigquery"
	"github.com/dvloznov/ops-review/internal/cache"
	"github.com/dvloznov/ops-review/internal/export"
	"github.com/dvloznov/ops-review/internal/loader"
	"github.com/dvloznov/ops-review/internal/logger"
	"github.com/dvloznov/ops-review/internal/pipeline"
)

// Messages shown instead of data when a report cannot be produced.
const (
	UnavailableMessage = "The report source could not be loaded. Please try again later."
	NoDataMessage      = "The report source has no data yet."
)

// ErrHistoryDisabled is returned when no snapshot store is configured.
var ErrHistoryDisabled = errors.New("aging history is not enabled")

// Service builds reports from their sources. Runs and snapshots are
// optional; a nil repository disables that feature.
type Service struct {
	sources   SourceProvider
	cache     cache.TableCache
	runs      bq.RunRepository
	snapshots bq.SnapshotRepository
	now       func() time.Time
}

// NewService creates a new report service.
func NewService(sources SourceProvider, tables cache.TableCache, runs bq.RunRepository, snapshots bq.SnapshotRepository) *Service {
	return &Service{
		sources:   sources,
		cache:     tables,
		runs:      runs,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// RefreshResult is the outcome of a refresh.
type RefreshResult struct {
	Report    pipeline.ReportType `json:"report"`
	RunID     string              `json:"run_id,omitempty"`
	Stats     bq.RunStats         `json:"stats"`
	Snapshots int                 `json:"snapshots"`
}

// Build runs report with req. A source that cannot be fetched or holds no
// rows yields an empty report with a message rather than an error.
func (s *Service) Build(ctx context.Context, report pipeline.ReportType, req pipeline.Request) (*pipeline.Report, pipeline.Schema, error) {
	log := logger.FromContext(ctx)

	schema, err := pipeline.LookupSchema(report)
	if err != nil {
		return nil, pipeline.Schema{}, fmt.Errorf("Build: %w", err)
	}

	table, err := s.Table(ctx, schema)
	if err != nil {
		if msg, ok := emptyMessage(err); ok {
			log.Warn().Err(err).Str("report", string(report)).Msg("Serving empty report")
			return &pipeline.Report{Report: report, Empty: true, Message: msg}, schema, nil
		}
		return nil, schema, fmt.Errorf("Build: %w", err)
	}

	rep, err := pipeline.Run(ctx, table, schema, req)
	if err != nil {
		return nil, schema, fmt.Errorf("Build: %w", err)
	}
	return rep, schema, nil
}

// Options derives the filter choices of report for the given selection.
func (s *Service) Options(ctx context.Context, report pipeline.ReportType, year, month int) (pipeline.Options, error) {
	log := logger.FromContext(ctx)

	schema, err := pipeline.LookupSchema(report)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("Options: %w", err)
	}

	var records []pipeline.Record
	table, err := s.Table(ctx, schema)
	switch {
	case err == nil:
		n, err := pipeline.Normalize(table, schema)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("Options: %w", err)
		}
		records = n.Records
	case isEmptySource(err):
		log.Warn().Err(err).Str("report", string(report)).Msg("Deriving options without data")
	default:
		return pipeline.Options{}, fmt.Errorf("Options: %w", err)
	}

	return pipeline.DeriveOptions(records, schema, year, month, s.now()), nil
}

// Export builds report with req and writes it to w.
func (s *Service) Export(ctx context.Context, report pipeline.ReportType, req pipeline.Request, format export.Format, w io.Writer) error {
	rep, schema, err := s.Build(ctx, report, req)
	if err != nil {
		return fmt.Errorf("Export: %w", err)
	}
	if err := export.Write(w, format, schema, rep); err != nil {
		return fmt.Errorf("Export: %w", err)
	}
	return nil
}

// Series summarizes the records req selects into chart figures. Grouping
// in req is ignored; bySegment splits the balance series by aging bucket.
func (s *Service) Series(ctx context.Context, report pipeline.ReportType, req pipeline.Request, bySegment bool) (pipeline.Summary, error) {
	rep, schema, err := s.Build(ctx, report, pipeline.Request{Criteria: req.Criteria})
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("Series: %w", err)
	}
	sum := pipeline.Summarize(rep.Records, schema, bySegment, req.MonthEnd)
	sum.Message = rep.Message
	return sum, nil
}

// Table returns the raw table of schema's report, from the cache when
// possible. Cache failures are logged and fall through to the source.
func (s *Service) Table(ctx context.Context, schema pipeline.Schema) (pipeline.Table, error) {
	log := logger.FromContext(ctx)
	key := cache.Key(schema.Report, "")

	if s.cache != nil {
		table, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		if ok {
			return table, nil
		}
	}

	table, err := s.load(ctx, schema)
	if err != nil {
		return pipeline.Table{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, table); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
	}
	return table, nil
}

func (s *Service) load(ctx context.Context, schema pipeline.Schema) (pipeline.Table, error) {
	src, err := s.sources.Source(schema.Report)
	if err != nil {
		return pipeline.Table{}, err
	}

	if schema.Report == pipeline.ReportProfitLoss {
		return s.loadProfitLoss(ctx, src, schema)
	}

	res := loader.Load(ctx, src, loader.Options{SkipRows: schema.SkipRows})
	return res.Table, res.Err
}

// loadProfitLoss treats every monthly export separately and stacks the
// resulting lines. Files whose name carries no period are skipped.
func (s *Service) loadProfitLoss(ctx context.Context, src loader.Source, schema pipeline.Schema) (pipeline.Table, error) {
	log := logger.FromContext(ctx)

	sheets, err := loader.LoadEach(ctx, src, loader.Options{SkipRows: schema.SkipRows})
	if err != nil {
		return pipeline.Table{}, err
	}

	var lines []pipeline.PLLine
	for _, sh := range sheets {
		period, err := pipeline.PLPeriodFromName(sh.Name, 0)
		if err != nil {
			log.Warn().Err(err).Str("file", sh.Name).Msg("Skipping profit and loss file")
			continue
		}
		l, err := pipeline.TreatProfitAndLoss(sh.Table, period)
		if err != nil {
			return pipeline.Table{}, fmt.Errorf("loadProfitLoss: %s: %w", sh.Name, err)
		}
		lines = append(lines, l...)
	}

	if len(lines) == 0 {
		return pipeline.Table{}, fmt.Errorf("loadProfitLoss: %w", pipeline.ErrNoData)
	}
	return pipeline.PLTable(lines), nil
}

// Refresh drops the cached table of report, reloads it and records the run.
// Aging reports also store a snapshot of the open balance per bucket.
func (s *Service) Refresh(ctx context.Context, report pipeline.ReportType) (*RefreshResult, error) {
	log := logger.FromContext(ctx).With().Str("report", string(report)).Logger()

	schema, err := pipeline.LookupSchema(report)
	if err != nil {
		return nil, fmt.Errorf("Refresh: %w", err)
	}

	key := cache.Key(report, "")
	if s.cache != nil {
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Msg("Cache delete failed")
		}
	}

	result := &RefreshResult{Report: report}
	if s.runs != nil {
		src := ""
		if ls, err := s.sources.Source(report); err == nil {
			src = ls.Describe()
		}
		runID, err := s.runs.StartReportRun(ctx, string(report), src)
		if err != nil {
			return nil, fmt.Errorf("Refresh: %w", err)
		}
		result.RunID = runID
	}

	fail := func(err error) (*RefreshResult, error) {
		if s.runs != nil {
			s.runs.MarkReportRunFailed(ctx, result.RunID, err)
		}
		return nil, fmt.Errorf("Refresh: %s: %w", report, err)
	}

	table, err := s.Table(ctx, schema)
	if err != nil {
		return fail(err)
	}
	n, err := pipeline.Normalize(table, schema)
	if err != nil {
		return fail(err)
	}

	result.Stats = bq.RunStats{
		RowsIn:   table.Len(),
		Kept:     len(n.Records),
		Rejected: len(n.Rejections),
		Skipped:  n.Skipped,
	}

	if s.snapshots != nil && hasAging(schema) {
		rows := SnapshotRows(result.RunID, schema, n.Records, civil.DateOf(s.now()), s.now())
		if err := s.snapshots.InsertAgingSnapshots(ctx, rows); err != nil {
			return fail(err)
		}
		result.Snapshots = len(rows)
	}

	if s.runs != nil {
		if err := s.runs.MarkReportRunSucceeded(ctx, result.RunID, result.Stats); err != nil {
			return nil, fmt.Errorf("Refresh: %w", err)
		}
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("rows_in", result.Stats.RowsIn).
		Int("kept", result.Stats.Kept).
		Int("rejected", result.Stats.Rejected).
		Int("snapshots", result.Snapshots).
		Msg("Report refreshed")

	return result, nil
}

// RefreshAll refreshes every configured report and joins the failures.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, r := range pipeline.ReportTypes() {
		if _, err := s.sources.Source(r); err != nil {
			continue
		}
		if _, err := s.Refresh(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// History returns the stored open balance per aging bucket over time.
func (s *Service) History(ctx context.Context, report pipeline.ReportType, start, end civil.Date) ([]pipeline.Point, error) {
	if s.snapshots == nil {
		return nil, ErrHistoryDisabled
	}
	if _, err := pipeline.LookupSchema(report); err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}

	rows, err := s.snapshots.QueryAgingSnapshots(ctx, string(report), start, end)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return SnapshotPoints(rows), nil
}

// Runs lists recent refreshes.
func (s *Service) Runs(ctx context.Context, report string, limit int) ([]*bq.ReportRunRow, error) {
	if s.runs == nil {
		return nil, nil
	}
	rows, err := s.runs.ListReportRuns(ctx, report, limit)
	if err != nil {
		return nil, fmt.Errorf("Runs: %w", err)
	}
	return rows, nil
}

func isEmptySource(err error) bool {
	_, ok := emptyMessage(err)
	return ok
}

func emptyMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, loader.ErrSourceUnavailable):
		return UnavailableMessage, true
	case errors.Is(err, pipeline.ErrNoData):
		return NoDataMessage, true
	}
	return "", false
}
