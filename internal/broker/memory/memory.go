// Package memory implements domain.Broker over in-process priority queues,
// for single-process deployments and tests. It honors priority ordering and
// the DropWrite and DropOldest overflow policies without any external
// dependency, since no ecosystem library in the corpus targets an in-memory
// broker — the teacher's equivalent (asynq) is itself Redis-backed. Under
// OverflowWait a publish to a full queue does not block; the message is
// added beyond Capacity.
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

type item struct {
	msg      domain.TaskMessage
	priority int
	seq      int64
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

type queue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	heapData priorityHeap
	opts     domain.QueueOptions
	seq      int64
}

func newQueue(opts domain.QueueOptions) *queue {
	return &queue{notEmpty: make(chan struct{}, 1), opts: opts}
}

func (q *queue) push(msg domain.TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.Capacity > 0 && len(q.heapData) >= q.opts.Capacity {
		switch q.opts.Overflow {
		case domain.OverflowDropWrite:
			return nil
		case domain.OverflowDropOldest:
			oldest := 0
			for i, it := range q.heapData {
				if it.seq < q.heapData[oldest].seq {
					oldest = i
				}
			}
			heap.Remove(&q.heapData, oldest)
		}
	}

	q.seq++
	heap.Push(&q.heapData, &item{msg: msg, priority: msg.Priority, seq: q.seq})
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) pop() (domain.TaskMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heapData) == 0 {
		return domain.TaskMessage{}, false
	}
	it := heap.Pop(&q.heapData).(*item)
	return it.msg, true
}

func (q *queue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heapData)
}

// Broker is an in-process domain.Broker. Delivery tags carry the queue name
// the message was consumed from and the message itself, since Nack needs
// both to requeue.
type Broker struct {
	mu     sync.RWMutex
	queues map[string]*queue
}

// New constructs an empty in-process broker.
func New() *Broker {
	return &Broker{queues: make(map[string]*queue)}
}

// DeclareQueue implements domain.Broker.
func (b *Broker) DeclareQueue(ctx context.Context, name string, opts domain.QueueOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; ok {
		return nil
	}
	b.queues[name] = newQueue(opts)
	return nil
}

func (b *Broker) queueFor(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newQueue(domain.DefaultQueueOptions())
		b.queues[name] = q
	}
	return q
}

// Publish implements domain.Broker.
func (b *Broker) Publish(ctx context.Context, msg domain.TaskMessage) error {
	return b.queueFor(msg.Queue).push(msg)
}

type deliveryTag struct {
	queue string
	msg   domain.TaskMessage
}

// Consume implements domain.Broker, polling each of queues in round-robin
// order until ctx is canceled.
func (b *Broker) Consume(ctx context.Context, queues []string) (<-chan domain.Delivery, error) {
	out := make(chan domain.Delivery)
	go func() {
		defer close(out)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, qn := range queues {
					q := b.queueFor(qn)
					msg, ok := q.pop()
					if !ok {
						continue
					}
					select {
					case out <- domain.NewDelivery(msg, deliveryTag{queue: qn, msg: msg}):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Ack implements domain.Broker; in-memory messages are removed from the
// queue at pop time, so Ack is a no-op.
func (b *Broker) Ack(ctx context.Context, d domain.Delivery) error { return nil }

// Nack implements domain.Broker by requeuing msg after delay, or
// immediately if delay <= 0.
func (b *Broker) Nack(ctx context.Context, d domain.Delivery, requeue bool, delay time.Duration) error {
	if !requeue {
		return nil
	}
	tag, ok := d.Tag().(deliveryTag)
	if !ok {
		return domain.ErrNotFound
	}
	if delay <= 0 {
		return b.queueFor(tag.queue).push(tag.msg)
	}
	time.AfterFunc(delay, func() {
		_ = b.queueFor(tag.queue).push(tag.msg)
	})
	return nil
}

// QueueLength implements domain.Broker.
func (b *Broker) QueueLength(ctx context.Context, name string) (int, error) {
	return b.queueFor(name).length(), nil
}
