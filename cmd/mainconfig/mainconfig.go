// Package mainconfig wires the services shared by the api-server and the
// reconcile-worker binaries.
package mainconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/appointment"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/availability"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/conferencing"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/config"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/db"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/meeting"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-teleconsult-scheduling/internal/redis"
)

type Services struct {
	Pool         *pgxpool.Pool
	Redis        *redis.Client // nil when Redis was unreachable at startup
	Dynamo       *dynamodb.Client
	Availability *availability.Engine
	Appointments *appointment.Service
	Meetings     *meeting.Manager
}

// Close releases the connections opened by Build.
func (s *Services) Close(logger zerolog.Logger) {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	s.Pool.Close()
}

// Build connects Postgres, Redis and AWS and assembles the three domain
// services. Redis is optional: without it reconciliation runs unlocked,
// which is safe for a single worker.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, m *metrics.Metrics) (*Services, error) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	svc := &Services{Pool: pool}

	var locker redisclient.Locker = redisclient.NopLocker{}
	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, reconciliation locks disabled")
	} else {
		svc.Redis = rdb
		locker = redisclient.NewRedisLocker(rdb, "reconcile", cfg.LockTTL)
		logger.Info().Msg("connected to Redis")
	}

	apptRepo := appointment.NewPgRepository(pool)
	svc.Availability = availability.NewEngine(
		availability.NewPgRepository(pool),
		apptRepo,
		availability.EngineConfig{Location: cfg.Location(), MaxRangeDays: cfg.SlotQueryMaxDays},
		logger.With().Str("component", "availability").Logger(),
		m,
	)
	svc.Appointments = appointment.NewService(apptRepo, svc.Availability, logger.With().Str("component", "booking").Logger(), m)

	awsCfg, err := config.LoadAWSConfig(ctx, cfg)
	if err != nil {
		svc.Close(logger)
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var store meeting.Store
	if cfg.MeetingSessionsTable != "" {
		svc.Dynamo = dynamodb.NewFromConfig(awsCfg)
		store = meeting.NewDynamoStore(svc.Dynamo, cfg.MeetingSessionsTable)
		logger.Info().Str("table", cfg.MeetingSessionsTable).Msg("meeting sessions stored in DynamoDB")
	} else {
		store = meeting.NewMemoryStore()
		logger.Warn().Msg("MEETING_SESSIONS_TABLE not set, meeting sessions kept in memory")
	}

	meetingLogger := logger.With().Str("component", "meeting").Logger()
	var sender notify.SummarySender = notify.NoopSender{Logger: meetingLogger}
	if cfg.SummaryFromEmail != "" {
		sender = notify.NewSESSummarySender(sesv2.NewFromConfig(awsCfg), cfg.SummaryFromEmail, meetingLogger)
	}

	routes, err := notify.ParseRoutingTable(cfg.SummaryRoutingJSON)
	if err != nil {
		svc.Close(logger)
		return nil, err
	}

	svc.Meetings = meeting.NewManager(
		store,
		conferencing.NewChimeProvider(awsCfg, cfg.MediaRegion),
		svc.Appointments,
		sender,
		routes,
		locker,
		meeting.ManagerConfig{
			MediaRegion:      cfg.MediaRegion,
			RecordingSinkARN: cfg.RecordingSinkARN,
			Retention:        cfg.SessionRetention,
		},
		meetingLogger,
		m,
	)

	return svc, nil
}
