// Package app connects the backing stores and builds the booking service the
// way every binary needs it.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/appointment"
	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/db"
	"github.com/hackgods/slot-scheduling/internal/directory"
	"github.com/hackgods/slot-scheduling/internal/metrics"
	"github.com/hackgods/slot-scheduling/internal/notify"
	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

const notifyStreamMaxLen = 100_000

type App struct {
	Config     config.Config
	Log        zerolog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher
	Service    *appointment.Service
}

// Open connects Postgres and Redis, starts the notification dispatcher and
// builds the service. Callers must Close the result.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 0)
	cancelPg()
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	log.Info().Msg("connected to postgres")

	rdb, err := redisclient.Connect(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.Redis = rdb
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	var resolver directory.Resolver = directory.NewClient(cfg.PatientDirectoryURL, cfg.StaffDirectoryURL, cfg.DirectoryTimeout, a.Metrics)
	if cfg.DirectoryCacheTTL > 0 {
		resolver = directory.NewCachedResolver(resolver, rdb, cfg.DirectoryCacheTTL, log, a.Metrics)
	}

	a.Dispatcher = notify.NewDispatcher(log, a.Metrics,
		[]notify.Sink{
			notify.NewLogSink(log),
			notify.NewRedisStreamSink(rdb, cfg.NotifyStream, notifyStreamMaxLen),
			notify.NewEventLogSink(pool),
		},
		notify.WithBuffer(cfg.NotifyBuffer),
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithMaxAttempts(cfg.NotifyMaxAttempts),
	)
	a.Dispatcher.Start(ctx)

	a.Service = appointment.NewService(
		appointment.NewPgRepository(pool),
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		resolver,
		a.Dispatcher,
		cfg,
		log,
		a.Metrics,
	)

	return a, nil
}

// Migrate applies the embedded migrations.
func (a *App) Migrate(ctx context.Context) error {
	n, err := db.NewMigrator(a.Pool, db.Migrations()).Up(ctx)
	if err != nil {
		return err
	}
	a.Log.Info().Int("applied", n).Msg("migrations up to date")
	return nil
}

// Close drains queued notifications, then releases the connections.
func (a *App) Close(ctx context.Context) {
	if err := a.Dispatcher.Close(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("notification queue not fully drained")
	}
	if err := a.Redis.Close(); err != nil {
		a.Log.Error().Err(err).Msg("error closing redis")
	}
	a.Pool.Close()
}
