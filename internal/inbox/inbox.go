// Package inbox implements domain.InboxStore over pgx/v5 for idempotent-
// consumer deduplication: a unique constraint on message_id turns a
// duplicate MarkProcessed into a no-op rather than a second side effect,
// mirroring the teacher's pgx insert/constraint idiom in
// internal/adapter/repo/postgres/cleanup.go.
package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Store is a pgx-backed domain.InboxStore. Callers are responsible for
// creating the `inbox_entries` table (message_id PK, processed_at) via
// migration.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// IsProcessed implements domain.InboxStore.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM inbox_entries WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("op=inbox.is_processed: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return exists, nil
}

// MarkProcessed implements domain.InboxStore. A duplicate call (the same
// messageID twice) is idempotent: the unique-violation from the second
// insert is swallowed.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO inbox_entries (message_id, processed_at) VALUES ($1, now())`, messageID)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil
	}
	return fmt.Errorf("op=inbox.mark_processed: %w: %v", domain.ErrBackendUnavailable, err)
}
