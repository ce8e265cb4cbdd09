// Package migrations tracks which schema migrations have been applied to
// a Postgres database, mirroring the bookkeeping golang-migrate and flyway
// do via their own version tables. Grounded on the teacher's pgx usage
// (internal/adapter/repo/postgres) and on internal/outbox and internal/inbox,
// which document the tables they depend on via migration comments instead
// of shipping DDL files; Migrator is the thin layer that actually runs and
// records those migrations instead of requiring an operator to apply them
// by hand.
package migrations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Migration is one forward-only schema change: a monotonically increasing
// Version, a human-readable Description recorded alongside it, and the SQL
// executed to apply it.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Applied records one row of the schema_migrations table.
type Applied struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

// Migrator applies an ordered set of Migrations to a Postgres database,
// recording each in a schema_migrations(version, description, applied_at)
// table so a repeated Apply call is a no-op for versions already applied.
type Migrator struct {
	pool       *pgxpool.Pool
	migrations []Migration
}

// New constructs a Migrator over pool. migrations need not be pre-sorted;
// Apply runs them in ascending Version order.
func New(pool *pgxpool.Pool, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{pool: pool, migrations: sorted}
}

// Apply creates schema_migrations if it doesn't exist, then runs every
// migration whose version isn't already recorded there, each inside its
// own transaction alongside the insert that records it.
func (m *Migrator) Apply(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("op=migrations.apply: %w: %v", domain.ErrBackendUnavailable, err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("op=migrations.apply: %w", err)
	}

	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.applyOne(ctx, mig); err != nil {
			return fmt.Errorf("op=migrations.apply: version=%d: %w", mig.Version, err)
		}
	}
	return nil
}

func (m *Migrator) applyOne(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, now())`,
		mig.Version, mig.Description,
	); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}
		out[v] = true
	}
	return out, rows.Err()
}

// History returns every applied migration, ordered by version.
func (m *Migrator) History(ctx context.Context) ([]Applied, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, description, applied_at FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("op=migrations.history: %w: %v", domain.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Description, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("op=migrations.history: %w: %v", domain.ErrBackendUnavailable, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Default returns the migrations backing the Postgres-flavored adapters in
// this module: outbox/inbox dedup tables and the broker_messages table the
// Postgres broker consumes. Table shapes mirror what their packages already
// document in comments and what their integration tests create ad hoc.
func Default() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create outbox_entries",
			SQL: `CREATE TABLE IF NOT EXISTS outbox_entries (
				id              TEXT PRIMARY KEY,
				queue           TEXT NOT NULL,
				payload         JSONB NOT NULL,
				status          TEXT NOT NULL,
				sequence_number BIGSERIAL,
				attempts        INT NOT NULL DEFAULT 0,
				last_error      TEXT,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS outbox_entries_pending_idx
				ON outbox_entries (status, sequence_number) WHERE status = 'pending';`,
		},
		{
			Version:     2,
			Description: "create inbox_entries",
			SQL: `CREATE TABLE IF NOT EXISTS inbox_entries (
				message_id   TEXT PRIMARY KEY,
				processed_at TIMESTAMPTZ NOT NULL
			);`,
		},
		{
			Version:     3,
			Description: "create broker_messages",
			SQL: `CREATE TABLE IF NOT EXISTS broker_messages (
				id           TEXT PRIMARY KEY,
				queue        TEXT NOT NULL,
				payload      JSONB NOT NULL,
				priority     INT NOT NULL DEFAULT 0,
				eta          TIMESTAMPTZ,
				leased_until TIMESTAMPTZ,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
			);`,
		},
		{
			Version:     4,
			Description: "create task_results",
			SQL: `CREATE TABLE IF NOT EXISTS task_results (
				task_id    TEXT PRIMARY KEY,
				state      TEXT NOT NULL,
				payload    JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);`,
		},
	}
}
