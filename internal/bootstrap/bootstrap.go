// Package bootstrap builds the broker/backend/lock/revocation adapters a
// process needs from config.Config, so the worker, beat, and demo entry
// points share one adapter-selection path instead of repeating the
// switch per binary.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	backendmem "github.com/fairyhunter13/taskqueue/internal/backend/memory"
	backendpg "github.com/fairyhunter13/taskqueue/internal/backend/postgres"
	backendredis "github.com/fairyhunter13/taskqueue/internal/backend/redis"
	brokerkafka "github.com/fairyhunter13/taskqueue/internal/broker/kafka"
	brokermem "github.com/fairyhunter13/taskqueue/internal/broker/memory"
	brokerpg "github.com/fairyhunter13/taskqueue/internal/broker/postgres"
	brokerredis "github.com/fairyhunter13/taskqueue/internal/broker/redis"
	"github.com/fairyhunter13/taskqueue/internal/config"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	lockmem "github.com/fairyhunter13/taskqueue/internal/lock/memory"
	lockredis "github.com/fairyhunter13/taskqueue/internal/lock/redis"
	revocationmem "github.com/fairyhunter13/taskqueue/internal/revocation/memory"
	revocationredis "github.com/fairyhunter13/taskqueue/internal/revocation/redis"
	"github.com/fairyhunter13/taskqueue/internal/storage/migrations"
)

// Infra bundles the process-lifetime connections a binary must close on
// shutdown (nil fields mean that connection kind wasn't needed).
type Infra struct {
	Redis *goredis.Client
	Pool  *pgxpool.Pool
}

// Connect opens the Redis and/or Postgres connections cfg's broker and
// backend selectors require. Close the returned Infra on shutdown.
func Connect(ctx context.Context, cfg config.Config) (*Infra, error) {
	var infra Infra
	if strings.EqualFold(cfg.Broker, "redis") || strings.EqualFold(cfg.Backend, "redis") {
		opts, err := goredis.ParseURL(cfg.BrokerURL)
		if err != nil {
			return nil, fmt.Errorf("op=bootstrap.connect: parse redis url: %w", err)
		}
		infra.Redis = goredis.NewClient(opts)
	}
	if strings.EqualFold(cfg.Broker, "postgres") || strings.EqualFold(cfg.Backend, "postgres") {
		poolCfg, err := pgxpool.ParseConfig(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("op=bootstrap.connect: parse postgres dsn: %w", err)
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("op=bootstrap.connect: postgres connect: %w", err)
		}
		if err := otelpgx.RecordStats(pool); err != nil {
			slog.Warn("failed to record pgx pool stats", slog.Any("error", err))
		}
		infra.Pool = pool

		if err := migrations.New(pool, migrations.Default()).Apply(ctx); err != nil {
			return nil, fmt.Errorf("op=bootstrap.connect: apply migrations: %w", err)
		}
	}
	return &infra, nil
}

// Close releases every open connection, ignoring individual close errors
// the way a process shutdown path typically does.
func (i *Infra) Close() {
	if i == nil {
		return
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
}

// Broker constructs the domain.Broker cfg.Broker selects.
func Broker(cfg config.Config, infra *Infra) (domain.Broker, error) {
	switch strings.ToLower(cfg.Broker) {
	case "memory":
		return brokermem.New(), nil
	case "redis":
		return brokerredis.New(infra.Redis, cfg.BrokerLeaseWindow), nil
	case "postgres":
		return brokerpg.New(infra.Pool, cfg.DelayTickInterval), nil
	case "kafka":
		return brokerkafka.New(brokerkafka.Config{
			Brokers:       cfg.KafkaBrokers,
			ConsumerGroup: "taskqueue-workers",
		})
	default:
		return nil, fmt.Errorf("op=bootstrap.broker: unknown broker %q", cfg.Broker)
	}
}

// Backend constructs the domain.ResultBackend cfg.Backend selects.
func Backend(cfg config.Config, infra *Infra) (domain.ResultBackend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return backendmem.New(), nil
	case "redis":
		return backendredis.New(infra.Redis, 0), nil
	case "postgres":
		return backendpg.New(infra.Pool), nil
	default:
		return nil, fmt.Errorf("op=bootstrap.backend: unknown backend %q", cfg.Backend)
	}
}

// LockStore constructs the domain.PartitionLockStore: whenever Connect
// opened a Redis client (a "redis" broker or a "redis" backend) it gets a
// Redis-backed lock store, otherwise an in-process one.
func LockStore(cfg config.Config, infra *Infra) domain.PartitionLockStore {
	if infra.Redis != nil {
		return lockredis.New(infra.Redis)
	}
	return lockmem.New()
}

// RevocationStore constructs the domain.RevocationStore, following the
// same Redis-client fallback as LockStore.
func RevocationStore(cfg config.Config, infra *Infra) domain.RevocationStore {
	if infra.Redis != nil {
		return revocationredis.New(infra.Redis)
	}
	return revocationmem.New()
}
