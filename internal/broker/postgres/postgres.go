// Package postgres implements domain.Broker over a Postgres table polled
// with `SELECT ... FOR UPDATE SKIP LOCKED`, grounded on the teacher's
// pgxpool-transaction idiom in internal/adapter/repo/postgres/cleanup.go,
// generalized from a periodic DELETE sweep to a polling lease loop.
// Suited to deployments that already run Postgres for the result backend
// and want one fewer moving part than a dedicated broker.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Broker is a Postgres-backed domain.Broker.
type Broker struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

// New constructs a Broker over pool. Callers are responsible for creating
// the `broker_messages` table (id, queue, payload, priority, eta,
// leased_until, created_at) via migration.
func New(pool *pgxpool.Pool, pollInterval time.Duration) *Broker {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Broker{pool: pool, pollInterval: pollInterval}
}

// DeclareQueue implements domain.Broker; the shared table needs no
// per-queue DDL.
func (b *Broker) DeclareQueue(ctx context.Context, queue string, opts domain.QueueOptions) error {
	return nil
}

// Publish implements domain.Broker.
func (b *Broker) Publish(ctx context.Context, msg domain.TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("op=broker.postgres.publish: %w: %v", domain.ErrSerializationError, err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO broker_messages (id, queue, payload, priority, eta, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, msg.ID, msg.Queue, payload, msg.Priority, msg.ETA)
	if err != nil {
		return fmt.Errorf("op=broker.postgres.publish: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

type deliveryTag struct {
	id string
}

// Consume implements domain.Broker by polling for leasable rows.
func (b *Broker) Consume(ctx context.Context, queues []string) (<-chan domain.Delivery, error) {
	out := make(chan domain.Delivery)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.leaseOne(ctx, queues, out)
			}
		}
	}()
	return out, nil
}

func (b *Broker) leaseOne(ctx context.Context, queues []string, out chan<- domain.Delivery) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT id, payload FROM broker_messages
		WHERE queue = ANY($1)
		  AND (eta IS NULL OR eta <= now())
		  AND (leased_until IS NULL OR leased_until <= now())
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, queues)

	var id string
	var payload []byte
	if err := row.Scan(&id, &payload); err != nil {
		if err != pgx.ErrNoRows {
			return
		}
		return
	}

	if _, err := tx.Exec(ctx, `
		UPDATE broker_messages SET leased_until = now() + interval '30 seconds'
		WHERE id = $1
	`, id); err != nil {
		return
	}

	if err := tx.Commit(ctx); err != nil {
		return
	}
	committed = true

	var msg domain.TaskMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		_, _ = b.pool.Exec(ctx, `DELETE FROM broker_messages WHERE id = $1`, id)
		return
	}

	select {
	case out <- domain.NewDelivery(msg, deliveryTag{id: id}):
	case <-ctx.Done():
	}
}

// Ack implements domain.Broker by deleting the leased row.
func (b *Broker) Ack(ctx context.Context, d domain.Delivery) error {
	tag, ok := d.Tag().(deliveryTag)
	if !ok {
		return domain.ErrNotFound
	}
	_, err := b.pool.Exec(ctx, `DELETE FROM broker_messages WHERE id = $1`, tag.id)
	if err != nil {
		return fmt.Errorf("op=broker.postgres.ack: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

// Nack implements domain.Broker by releasing or deleting the lease.
func (b *Broker) Nack(ctx context.Context, d domain.Delivery, requeue bool, delay time.Duration) error {
	tag, ok := d.Tag().(deliveryTag)
	if !ok {
		return domain.ErrNotFound
	}
	if !requeue {
		_, err := b.pool.Exec(ctx, `DELETE FROM broker_messages WHERE id = $1`, tag.id)
		if err != nil {
			return fmt.Errorf("op=broker.postgres.nack: %w: %v", domain.ErrBrokerUnavailable, err)
		}
		return nil
	}
	_, err := b.pool.Exec(ctx, `
		UPDATE broker_messages SET leased_until = now() + $2, eta = now() + $2
		WHERE id = $1
	`, tag.id, delay)
	if err != nil {
		return fmt.Errorf("op=broker.postgres.nack: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

// QueueLength implements domain.Broker.
func (b *Broker) QueueLength(ctx context.Context, queue string) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx, `
		SELECT count(*) FROM broker_messages
		WHERE queue = $1 AND (leased_until IS NULL OR leased_until <= now())
	`, queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("op=broker.postgres.queue_length: %w: %v", domain.ErrBrokerUnavailable, err)
	}
	return n, nil
}
