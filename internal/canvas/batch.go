package canvas

import (
	"context"
	"sync"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
)

// BatchTracker derives a domain.Batch's aggregate progress from a group's
// terminal signals, supplementing the Batch entity named in spec.md §3
// with the canvas-owned observer that keeps it current.
type BatchTracker struct {
	mu      sync.Mutex
	batch   domain.Batch
	pending map[string]struct{}
}

// NewBatchTracker constructs a tracker over taskIDs, initially Pending.
func NewBatchTracker(id string, taskIDs []string) *BatchTracker {
	pending := make(map[string]struct{}, len(taskIDs))
	for _, tid := range taskIDs {
		pending[tid] = struct{}{}
	}
	return &BatchTracker{
		batch:   domain.Batch{ID: id, TaskIDs: taskIDs, Pending: len(taskIDs), State: domain.BatchPending},
		pending: pending,
	}
}

// Observe subscribes to bus and updates the tracked Batch as each tracked
// task id's terminal signal arrives, until ctx is cancelled.
func (t *BatchTracker) Observe(ctx context.Context, bus *signalbus.Bus) {
	t.mu.Lock()
	if t.batch.State == domain.BatchPending {
		t.batch.State = domain.BatchRunning
	}
	t.mu.Unlock()

	sub := bus.Subscribe(ctx)
	go func() {
		for sig := range sub {
			t.apply(sig)
		}
	}()
}

func (t *BatchTracker) apply(sig signalbus.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, tracked := t.pending[sig.TaskID]; !tracked {
		return
	}
	delete(t.pending, sig.TaskID)
	if sig.Type == signalbus.TaskSuccess {
		t.batch.Completed++
	} else {
		t.batch.Failed++
	}
	t.batch.Pending = len(t.pending)
	switch {
	case t.batch.Pending > 0:
	case t.batch.Failed > 0:
		t.batch.State = domain.BatchFailed
	default:
		t.batch.State = domain.BatchCompleted
	}
}

// Snapshot returns the current Batch state.
func (t *BatchTracker) Snapshot() domain.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batch
}
