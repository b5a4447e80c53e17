package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-teleconsult-scheduling/cmd/mainconfig"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/api"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/config"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/clinic-teleconsult-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("api-server", "dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().Str("http_port", cfg.HTTPPort).Str("timezone", cfg.ClinicTimezone).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	svc, err := mainconfig.Build(rootCtx, cfg, logger, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer svc.Close(logger)

	optional := map[string]api.Pinger{}
	if svc.Redis != nil {
		optional["redis"] = api.PingFunc(func(ctx context.Context) error { return svc.Redis.Ping(ctx).Err() })
	}
	if svc.Dynamo != nil {
		table := cfg.MeetingSessionsTable
		optional["dynamodb"] = api.PingFunc(func(ctx context.Context) error {
			_, err := svc.Dynamo.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
			return err
		})
	}

	router := api.NewRouter(api.RouterConfig{
		Availability: svc.Availability,
		Bookings:     svc.Appointments,
		Meetings:     svc.Meetings,
		Health:       api.NewHealthHandler(svc.Pool, optional, cfg.Env, version),
		Logger:       logger,
		Timeout:      30 * time.Second,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutting down api-server")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
		svc.Close(logger)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
