//go:build integration

package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/testutil"
)

func TestApplyRunsMigrationsOnceAndRecordsHistory(t *testing.T) {
	pool := testutil.PostgresContainer(t, "")
	ctx := context.Background()

	m := New(pool, Default())
	require.NoError(t, m.Apply(ctx))

	history, err := m.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, len(Default()))
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, "create outbox_entries", history[0].Description)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox_entries`).Scan(&count))
	assert.Equal(t, 0, count)

	// Re-applying is idempotent: no duplicate schema_migrations rows, no
	// "already exists" error from re-running migration SQL.
	require.NoError(t, m.Apply(ctx))
	history2, err := m.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history2, len(Default()))
}

func TestApplySkipsAlreadyAppliedVersions(t *testing.T) {
	pool := testutil.PostgresContainer(t, "")
	ctx := context.Background()

	first := New(pool, []Migration{{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (id TEXT PRIMARY KEY)`}})
	require.NoError(t, first.Apply(ctx))

	_, err := pool.Exec(ctx, `INSERT INTO widgets (id) VALUES ('w1')`)
	require.NoError(t, err)

	// A second Migrator carrying the same version 1 must not re-run its SQL
	// (which would fail on CREATE TABLE) and must leave existing rows intact.
	second := New(pool, []Migration{{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (id TEXT PRIMARY KEY)`}})
	require.NoError(t, second.Apply(ctx))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM widgets`).Scan(&count))
	assert.Equal(t, 1, count)
}
