// Package delay implements the delayed-message dispatcher: a min-heap of
// not-yet-due TaskMessages drained by a single ticker goroutine into the
// broker's live queue once their ETA elapses. Grounded on the pack's
// Redis delayed_queue promotion loop (other_examples'
// g-cesar-DistributedQ pkg/queue/client.go StartScheduler), generalized
// from a Lua-script ZSET sweep to a broker-agnostic in-process heap so it
// works the same way over the memory, Kafka, and Postgres brokers (the
// Redis broker additionally exposes its own ZSET-backed PromoteDue for
// callers who would rather let Redis own the heap).
package delay

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

type pending struct {
	msg   domain.TaskMessage
	due   time.Time
	index int
}

type pendingHeap []*pending

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *pendingHeap) Push(x any) {
	p := x.(*pending)
	p.index = len(*h)
	*h = append(*h, p)
}
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}

// Dispatcher holds delayed TaskMessages and pushes them to a Broker once
// due, via a single background goroutine started by Run.
type Dispatcher struct {
	mu           sync.Mutex
	heapData     pendingHeap
	broker       domain.Broker
	tickInterval time.Duration
}

// NewDispatcher constructs a Dispatcher publishing due messages to
// broker, checked every tickInterval.
func NewDispatcher(broker domain.Broker, tickInterval time.Duration) *Dispatcher {
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}
	return &Dispatcher{broker: broker, tickInterval: tickInterval}
}

// Schedule enqueues msg for delivery at due.
func (d *Dispatcher) Schedule(msg domain.TaskMessage, due time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	heap.Push(&d.heapData, &pending{msg: msg, due: due})
}

// Len reports the number of messages still pending dispatch.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.heapData)
}

// Run blocks, promoting due messages to the broker every tick until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.promoteDue(ctx)
		}
	}
}

func (d *Dispatcher) promoteDue(ctx context.Context) {
	now := time.Now()
	var due []domain.TaskMessage

	d.mu.Lock()
	for d.heapData.Len() > 0 && d.heapData[0].due.Before(now) {
		p := heap.Pop(&d.heapData).(*pending)
		due = append(due, p.msg)
	}
	d.mu.Unlock()

	for _, msg := range due {
		_ = d.broker.Publish(ctx, msg)
	}
}
