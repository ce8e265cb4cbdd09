// Package outbox implements the transactional-outbox dispatcher: a
// pgx-backed OutboxStore plus a ticker-driven loop that polls pending
// entries and publishes them to a domain.Broker. A failed entry stays
// pending and is retried on each later poll, at the fixed poll interval
// with no growing backoff, until its attempts reach the maximum. Grounded on the teacher's CleanupService periodic-sweep idiom
// (internal/adapter/repo/postgres/cleanup.go), generalized from a delete
// sweep to a poll-publish-mark loop.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Store is a pgx-backed domain.OutboxStore. Callers are responsible for
// creating the `outbox_entries` table (id, queue, payload JSONB, status,
// sequence_number bigserial, attempts, last_error, created_at,
// updated_at) via migration.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append implements domain.OutboxStore. The insert runs on the Store's pool
// as its own statement; it does not join a transaction the caller has open,
// so the row does not commit atomically with the caller's other writes.
func (s *Store) Append(ctx context.Context, entry domain.OutboxEntry) error {
	payload, err := json.Marshal(entry.TaskMessage)
	if err != nil {
		return fmt.Errorf("op=outbox.append: %w: %v", domain.ErrSerializationError, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO outbox_entries (id, queue, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, entry.ID, entry.TaskMessage.Queue, payload, string(domain.OutboxPending))
	if err != nil {
		return fmt.Errorf("op=outbox.append: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// PollPending implements domain.OutboxStore.
func (s *Store) PollPending(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payload, status, sequence_number, attempts, last_error, created_at, updated_at
		FROM outbox_entries
		WHERE status = $1
		ORDER BY sequence_number ASC
		LIMIT $2
	`, string(domain.OutboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("op=outbox.poll_pending: %w: %v", domain.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		var payload []byte
		var status string
		if err := rows.Scan(&e.ID, &payload, &status, &e.SequenceNumber, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=outbox.poll_pending: %w: %v", domain.ErrBackendUnavailable, err)
		}
		if err := json.Unmarshal(payload, &e.TaskMessage); err != nil {
			continue
		}
		e.Status = domain.OutboxStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDispatched implements domain.OutboxStore.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(domain.OutboxDispatched))
	if err != nil {
		return fmt.Errorf("op=outbox.mark_dispatched: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// MarkFailed implements domain.OutboxStore.
func (s *Store) MarkFailed(ctx context.Context, id string, lastErr string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries SET status = $2, last_error = $3, attempts = $4, updated_at = now() WHERE id = $1
	`, id, string(domain.OutboxFailed), lastErr, attempts)
	if err != nil {
		return fmt.Errorf("op=outbox.mark_failed: %w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// Dispatcher polls an OutboxStore and publishes due entries to a Broker.
type Dispatcher struct {
	store        domain.OutboxStore
	broker       domain.Broker
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int

	// attempts tracks retry counts in process memory since OutboxStore
	// only persists a terminal MarkFailed, not an in-flight bump; a
	// dispatcher restart resets the count, which is acceptable since
	// maxAttempts only bounds how long a transient broker outage delays
	// eventual publish, not correctness.
	attempts map[string]int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store domain.OutboxStore, broker domain.Broker, pollInterval time.Duration, batchSize, maxAttempts int) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{store: store, broker: broker, pollInterval: pollInterval, batchSize: batchSize, maxAttempts: maxAttempts, attempts: make(map[string]int)}
}

// Run blocks polling and dispatching pending entries until ctx is
// cancelled, the way the teacher's cleanup loop blocks on its own ticker.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchOnce(ctx)
		}
	}
}

func (d *Dispatcher) dispatchOnce(ctx context.Context) {
	entries, err := d.store.PollPending(ctx, d.batchSize)
	if err != nil {
		slog.Error("outbox poll failed", slog.Any("error", err))
		return
	}
	for _, e := range entries {
		if err := d.broker.Publish(ctx, e.TaskMessage); err != nil {
			d.attempts[e.ID]++
			attempts := d.attempts[e.ID]
			if attempts >= d.maxAttempts {
				if markErr := d.store.MarkFailed(ctx, e.ID, err.Error(), attempts); markErr != nil {
					slog.Error("outbox mark_failed failed", slog.String("id", e.ID), slog.Any("error", markErr))
				}
				delete(d.attempts, e.ID)
				continue
			}
			slog.Warn("outbox publish failed, will retry", slog.String("id", e.ID), slog.Int("attempts", attempts), slog.Any("error", err))
			continue
		}
		delete(d.attempts, e.ID)
		if err := d.store.MarkDispatched(ctx, e.ID); err != nil {
			slog.Error("outbox mark_dispatched failed", slog.String("id", e.ID), slog.Any("error", err))
		}
	}
}
