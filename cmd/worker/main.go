package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ops-review/internal/app"
	"github.com/dvloznov/ops-review/internal/config"
	"github.com/dvloznov/ops-review/internal/jobs"
	"github.com/dvloznov/ops-review/internal/jobs/inmemory"
	"github.com/dvloznov/ops-review/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	var (
		schedule = flag.String("schedule", cfg.RefreshSchedule, "Cron spec for report refreshes (or set REFRESH_SCHEDULE env)")
		once     = flag.Bool("once", false, "Refresh every configured report once and exit")
		workers  = flag.Int("workers", 5, "Number of concurrent refresh workers")
	)
	flag.Parse()

	// Initialize logger
	log := logger.NewService(os.Stdout, "worker", logger.ParseLevel(cfg.LogLevel))

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{History: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize report service")
	}
	defer a.Close()

	if *once {
		if err := a.Service.RefreshAll(ctx); err != nil {
			log.Error().Err(err).Msg("Refresh finished with failures")
			a.Close()
			os.Exit(1)
		}
		log.Info().Msg("Refresh completed")
		return
	}

	reports := a.ConfiguredReports()
	if len(reports) == 0 {
		log.Warn().Msg("No report sources configured, nothing will be refreshed")
	}

	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)
	jobQueue.Workers = *workers

	log.Info().Int("workers", *workers).Msg("Starting worker service")

	if err := jobQueue.Start(ctx, app.RefreshHandler(a.Service)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler, err := jobs.NewScheduler(ctx, *schedule, jobQueue, reports)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	// Warm the cache before the first tick.
	scheduler.Enqueue(ctx)
	scheduler.Start()

	log.Info().
		Str("schedule", *schedule).
		Strs("reports", reports).
		Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scheduler.Stop(shutdownCtx)

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	// Cancel context to stop workers
	cancel()

	log.Info().Msg("Worker service exited")
}
