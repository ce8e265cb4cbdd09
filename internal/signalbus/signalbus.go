// Package signalbus implements the in-process pub/sub of typed task
// outcome signals that drives Canvas and Saga progression (spec §4.12 step
// 12). Grounded on the same fan-out-to-subscriber-channels idiom as
// internal/revocation/memory's Subscribe, generalized from revocation
// events to the four terminal task signals.
package signalbus

import (
	"context"
	"sync"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Type is the closed set of signals the executor emits on step 12 of its
// loop.
type Type string

const (
	TaskSuccess  Type = "success"
	TaskFailure  Type = "failure"
	TaskRevoked  Type = "revoked"
	TaskRejected Type = "rejected"
)

// Signal is one task-outcome event published by the executor.
type Signal struct {
	Type     Type
	TaskID   string
	TaskName string
	Result   domain.TaskResult
}

// Bus is an in-process, fan-out publish/subscribe of Signal values.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Signal]struct{}
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[chan Signal]struct{})}
}

// Publish fans sig out to every live subscriber. Sends are non-blocking: a
// subscriber whose buffer is full misses the signal rather than stalling
// the executor's hot path.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Subscribe returns a buffered channel of future signals, unregistered and
// closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) <-chan Signal {
	ch := make(chan Signal, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}
