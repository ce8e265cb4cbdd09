package domain

import "time"

// QueueOverflowPolicy controls what a bounded broker does when a queue is
// at capacity and a new message is published.
type QueueOverflowPolicy int

const (
	// OverflowWait blocks the publisher until capacity is available.
	OverflowWait QueueOverflowPolicy = iota
	// OverflowDropWrite rejects the new message, keeping the queue as is.
	OverflowDropWrite
	// OverflowDropOldest evicts the oldest queued message to make room.
	OverflowDropOldest
)

// QueueOptions configure a declared queue.
type QueueOptions struct {
	Capacity int
	Overflow QueueOverflowPolicy
}

// DefaultQueueOptions mirrors the in-memory broker's documented default.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{Capacity: 10000, Overflow: OverflowWait}
}

// Delivery wraps a TaskMessage leased from a Broker along with the broker-
// specific opaque handle needed to ack/nack it.
type Delivery struct {
	Message TaskMessage
	tag     any
}

// Tag returns the broker-opaque delivery handle. Adapters use this to
// correlate an ack/nack call with the underlying transport's delivery.
func (d Delivery) Tag() any { return d.tag }

// NewDelivery constructs a Delivery; adapters call this with their own tag
// type (a Redis BLMove result string, a Kafka *kgo.Record, a DB row id, ...).
func NewDelivery(msg TaskMessage, tag any) Delivery { return Delivery{Message: msg, tag: tag} }

// Broker is the publish/consume/ack contract every broker adapter
// implements (spec §4.2).
type Broker interface {
	Publish(ctx Context, msg TaskMessage) error
	// Consume returns a channel of deliveries from the given queues. The
	// channel closes when ctx is cancelled.
	Consume(ctx Context, queues []string) (<-chan Delivery, error)
	Ack(ctx Context, d Delivery) error
	// Nack negatively acknowledges a delivery. If requeue is true the
	// message becomes available again, optionally after delay.
	Nack(ctx Context, d Delivery, requeue bool, delay time.Duration) error
	DeclareQueue(ctx Context, queue string, opts QueueOptions) error
	QueueLength(ctx Context, queue string) (int, error)
}

// StateMetadata carries auxiliary fields attached to a state update, such
// as a progress percentage or an exception.
type StateMetadata struct {
	Exception *ExceptionInfo
	Progress  *float64
}

// ResultBackend is the durable store for task state and results (spec
// §4.3).
type ResultBackend interface {
	Store(ctx Context, result TaskResult) error
	Get(ctx Context, taskID string) (*TaskResult, error)
	UpdateState(ctx Context, taskID string, state TaskState, meta *StateMetadata) error
	GetState(ctx Context, taskID string) (TaskState, bool, error)
	// WaitForResult blocks until a terminal result exists or timeout
	// elapses, returning ErrTimeout in the latter case.
	WaitForResult(ctx Context, taskID string, timeout time.Duration) (*TaskResult, error)
}

// PartitionLockStore provides per-key mutual exclusion with TTL (spec
// §4.4).
type PartitionLockStore interface {
	TryAcquire(ctx Context, key, taskID string, ttl time.Duration) (bool, error)
	Release(ctx Context, key, taskID string) (bool, error)
	Extend(ctx Context, key, taskID string, ttl time.Duration) (bool, error)
	IsLocked(ctx Context, key string) (bool, error)
	Holder(ctx Context, key string) (string, bool, error)
}

// RevocationStore provides durable revocation tombstones and a live event
// stream (spec §4.5).
type RevocationStore interface {
	Revoke(ctx Context, taskID string, opts RevokeOptions) error
	RevokeBatch(ctx Context, taskIDs []string, opts RevokeOptions) error
	IsRevoked(ctx Context, taskID string) (bool, error)
	List(ctx Context) ([]Revocation, error)
	Cleanup(ctx Context, maxAge time.Duration) (int, error)
	// Subscribe returns a channel of events published after the call,
	// closed when ctx is cancelled.
	Subscribe(ctx Context) (<-chan RevocationEvent, error)
}

// Serializer maps typed values to/from bytes carrying a content-type tag
// (spec §4.1).
type Serializer interface {
	ContentType() string
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, out any) error
}

// OutboxStore is the durable append-and-poll surface the Outbox dispatcher
// drains (spec §4.6).
type OutboxStore interface {
	// Append records an entry inside the caller's own transaction; the
	// exact transaction mechanism is adapter-specific (e.g. a *pgx.Tx
	// passed through ctx).
	Append(ctx Context, entry OutboxEntry) error
	// PollPending returns up to limit Pending entries ordered by
	// SequenceNumber ascending.
	PollPending(ctx Context, limit int) ([]OutboxEntry, error)
	MarkDispatched(ctx Context, id string) error
	MarkFailed(ctx Context, id string, lastErr string, attempts int) error
}

// InboxStore backs idempotent-consumer deduplication (spec §4.6).
type InboxStore interface {
	IsProcessed(ctx Context, messageID string) (bool, error)
	MarkProcessed(ctx Context, messageID string) error
}

// SagaStore persists Saga aggregates. Only the orchestrator writes saga
// state; step updates are serialized per saga (spec.md §4.14).
type SagaStore interface {
	Save(ctx Context, saga Saga) error
	Get(ctx Context, sagaID string) (*Saga, error)
	List(ctx Context) ([]Saga, error)
}
