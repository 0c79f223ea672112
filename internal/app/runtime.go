// Package app wires the storage, lock backend and booking service shared by
// the long running binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

type Runtime struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client // nil with LOCK_BACKEND=local
	Service *appointment.Service
}

func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.Connect(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	rt := &Runtime{Pool: pool}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		rt.Redis = rdb
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	default:
		logger.Warn().Msg("using in-process doctor locks, run a single instance only")
		locker = redisclient.NewLocalLocker(cfg.LockWait)
	}

	opts, err := appointment.OptionsFromConfig(cfg)
	if err != nil {
		rt.Close(logger)
		return nil, err
	}

	rt.Service = appointment.NewService(appointment.NewPgRepository(pool), locker, opts, logger)
	return rt, nil
}

func (rt *Runtime) Close(logger zerolog.Logger) {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}
	rt.Pool.Close()
}
