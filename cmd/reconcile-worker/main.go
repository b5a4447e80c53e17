package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/cmd/mainconfig"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/config"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/clinic-teleconsult-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("reconcile-worker", "dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("reconcile-worker", cfg.Env, cfg.LogLevel)
	logger.Info().Dur("interval", cfg.WorkerInterval).Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := mainconfig.Build(rootCtx, cfg, logger, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer svc.Close(logger)

	// Run once at startup
	runOnce(rootCtx, svc, cfg.SessionRetention, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.SessionRetention, logger)
		}
	}
}

// runOnce expires meeting sessions the provider no longer knows about and
// drops pending appointment requests older than the retention window.
func runOnce(ctx context.Context, svc *mainconfig.Services, retention time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	start := time.Now()
	report, err := svc.Meetings.ReconcileState(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reconcile run error")
	} else {
		logger.Info().
			Int("checked", report.Checked).
			Int("expired", report.Expired).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Dur("took", time.Since(start)).
			Msg("reconcile run complete")
	}

	purged, err := svc.Appointments.PurgeStalePending(runCtx, retention)
	if err != nil {
		logger.Error().Err(err).Msg("pending purge error")
		return
	}
	if purged > 0 {
		logger.Info().Int64("purged", purged).Msg("stale pending appointments removed")
	}
}
