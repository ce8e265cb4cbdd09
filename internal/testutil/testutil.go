// Package testutil centralizes the miniredis and testcontainers-go setup
// duplicated across adapter test files, grounded on the teacher's shared
// internal/integration/containers_test.go container-bring-up idiom
// (internal/adapter/repo/postgres/testhelpers_test.go plays the analogous
// role for its stub-based unit tests).
package testutil

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MiniRedis starts an in-process miniredis instance and returns a connected
// go-redis client. The server and client are closed automatically via
// t.Cleanup.
func MiniRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

// PostgresContainer starts a postgres:16 testcontainer, applies schemaDDL
// against it, and returns a connected pgxpool.Pool. The pool and container
// are torn down automatically via t.Cleanup. Callers needing the
// schema_migrations bookkeeping covered by internal/storage/migrations
// instead of ad-hoc DDL should run that Migrator against the returned pool.
func PostgresContainer(t *testing.T, schemaDDL string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "app"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://postgres:postgres@" + host + ":" + port.Port() + "/app?sslmode=disable"
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pool.Ping(ctx) == nil }, 30*time.Second, time.Second)
	if schemaDDL != "" {
		_, err = pool.Exec(ctx, schemaDDL)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		pool.Close()
		_ = c.Terminate(ctx)
	})
	return pool
}
