package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dvloznov/ops-review/internal/logger"
)

// Scheduler publishes refresh jobs for a fixed set of reports on a cron
// schedule.
type Scheduler struct {
	cron      *cron.Cron
	publisher Publisher
	reports   []string
}

// NewScheduler validates spec and registers the refresh entry. Spec accepts
// the standard five-field syntax and descriptors such as "@every 10m".
func NewScheduler(ctx context.Context, spec string, publisher Publisher, reports []string) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		publisher: publisher,
		reports:   reports,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Enqueue(ctx) }); err != nil {
		return nil, fmt.Errorf("NewScheduler: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Enqueue publishes one refresh job per report. Publish failures are logged
// and the remaining reports are still enqueued.
func (s *Scheduler) Enqueue(ctx context.Context) int {
	log := logger.FromContext(ctx)

	published := 0
	for _, r := range s.reports {
		job := &RefreshReportJob{Report: r, Trigger: TriggerSchedule}
		if err := s.publisher.PublishRefreshReport(ctx, job); err != nil {
			log.Error().Err(err).Str("report", r).Msg("Failed to enqueue scheduled refresh")
			continue
		}
		published++
	}

	log.Info().Int("jobs", published).Msg("Scheduled refresh enqueued")
	return published
}

// Start runs the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running enqueue to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
