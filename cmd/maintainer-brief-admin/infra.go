package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devion-industries/maintainer-brief/config"
	"github.com/devion-industries/maintainer-brief/internal/bootstrap"
)

// infra holds the connections a command opened. Redis is nil when it is disabled or unreachable.
type infra struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// Close releases every open connection.
func (i *infra) Close() error {
	var closeErr error
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// connectInfra opens Postgres and, when wantRedis is set and configured, Redis. A Redis failure is
// logged and tolerated since Redis only fronts the idempotency lookup and the sweep lock.
func connectInfra(cmdCtx *commandContext, wantRedis bool) (*infra, error) {
	db, err := bootstrap.ConnectDB(cmdCtx.Ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	out := &infra{DB: db}

	if !wantRedis || !hasRedisConfig(&cmdCtx.Config.Redis) {
		return out, nil
	}
	client, err := bootstrap.ConnectRedis(cmdCtx.Ctx, bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		cmdCtx.Logger.Warn("redis unavailable; continuing without cache", "error", err)
		return out, nil
	}
	out.Redis = client
	return out, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil || !cfg.Enabled {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

// withServices connects infrastructure, builds the services for modes and runs f under a
// signal-aware timeout.
func withServices(
	cmdCtx *commandContext,
	timeout time.Duration,
	modes map[config.ServiceMode]bool,
	f func(context.Context, bootstrap.ServiceContainer) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conns, err := connectInfra(cmdCtx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conns.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close connections failed", "error", cerr)
		}
	}()

	if modes == nil {
		modes = map[config.ServiceMode]bool{}
	}
	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          conns.DB,
		RedisClient: conns.Redis,
		Logger:      cmdCtx.Logger,
		Modes:       modes,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	return f(ctx, services)
}

// withDatabase runs f with only a Postgres connection.
func withDatabase(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, *sql.DB) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conns, err := connectInfra(cmdCtx, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conns.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()
	return f(ctx, conns.DB)
}
