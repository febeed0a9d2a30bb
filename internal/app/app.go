// Package app wires configuration into the report service shared by the
// commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ops-review/internal/cache"
	"github.com/dvloznov/ops-review/internal/config"
	infraBQ "github.com/dvloznov/ops-review/internal/infra/bigquery"
	"github.com/dvloznov/ops-review/internal/jobs"
	"github.com/dvloznov/ops-review/internal/pipeline"
	"github.com/dvloznov/ops-review/internal/report"
)

// App holds the long-lived clients behind the report service.
type App struct {
	Config  *config.Config
	Catalog *report.Catalog
	Service *report.Service

	// Repo is nil when BigQuery could not be reached.
	Repo *infraBQ.Repository

	closers []func() error
}

// Options select the optional backends.
type Options struct {
	// History records runs and aging snapshots in BigQuery.
	History bool
}

// New builds the report service from cfg. Redis is used for the table cache
// when REDIS_ADDR is set, the in-process cache otherwise. A BigQuery client
// that cannot be created disables history with a warning.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{
		Config:  cfg,
		Catalog: report.NewCatalog(cfg.Sources),
	}

	var tables cache.TableCache
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		tables = cache.NewRedisCache(rdb, cfg.CacheTTL)
		log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("Using Redis table cache")
	} else {
		tables = cache.NewMemoryCache(cfg.CacheTTL)
		log.Info().Dur("ttl", cfg.CacheTTL).Msg("Using in-memory table cache")
	}

	var runs infraBQ.RunRepository
	var snapshots infraBQ.SnapshotRepository
	if opts.History {
		repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.Dataset)
		if err != nil {
			log.Warn().Err(err).Msg("BigQuery unavailable, run history disabled")
		} else {
			a.Repo = repo
			a.closers = append(a.closers, repo.Close)
			runs, snapshots = repo, repo
		}
	}

	a.Service = report.NewService(a.Catalog, tables, runs, snapshots)
	return a, nil
}

// Close releases the clients opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConfiguredReports lists the reports whose source is configured.
func (a *App) ConfiguredReports() []string {
	var out []string
	for _, e := range a.Catalog.Entries() {
		if e.Configured {
			out = append(out, string(e.Report))
		}
	}
	return out
}

// Refresher is the part of report.Service a refresh job needs.
type Refresher interface {
	Refresh(ctx context.Context, r pipeline.ReportType) (*report.RefreshResult, error)
}

// RefreshHandler returns the job handler that refreshes the job's report
// and records the resulting run ID on the job.
func RefreshHandler(svc Refresher) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		refreshJob, ok := job.(*jobs.RefreshReportJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		res, err := svc.Refresh(ctx, pipeline.ReportType(refreshJob.Report))
		if err != nil {
			return err
		}
		refreshJob.RunID = res.RunID
		return nil
	}
}
