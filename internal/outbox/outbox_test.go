package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/broker/memory"
	"github.com/fairyhunter13/taskqueue/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	pending []domain.OutboxEntry
	failed  map[string]string
	done    map[string]bool
}

func newFakeStore(entries ...domain.OutboxEntry) *fakeStore {
	return &fakeStore{pending: entries, failed: map[string]string{}, done: map[string]bool{}}
}

func (f *fakeStore) Append(ctx context.Context, entry domain.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, entry)
	return nil
}

func (f *fakeStore) PollPending(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutboxEntry
	for _, e := range f.pending {
		if !f.done[e.ID] && f.failed[e.ID] == "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkDispatched(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id] = true
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id string, lastErr string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = lastErr
	return nil
}

func TestDispatchOnceMarksSuccessEntriesDispatched(t *testing.T) {
	store := newFakeStore(domain.OutboxEntry{ID: "1", TaskMessage: domain.TaskMessage{ID: "1", Queue: "q"}})
	broker := memory.New()
	d := NewDispatcher(store, broker, time.Millisecond, 10, 3)

	d.dispatchOnce(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.done["1"])
}

type failingBroker struct{ *memory.Broker }

func (f *failingBroker) Publish(ctx context.Context, msg domain.TaskMessage) error {
	return errors.New("broker down")
}

func TestDispatchOnceMarksFailedAfterMaxAttempts(t *testing.T) {
	store := newFakeStore(domain.OutboxEntry{ID: "1", TaskMessage: domain.TaskMessage{ID: "1", Queue: "q"}})
	broker := &failingBroker{memory.New()}
	d := NewDispatcher(store, broker, time.Millisecond, 10, 2)

	d.dispatchOnce(context.Background())
	d.dispatchOnce(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Contains(t, store.failed, "1")
}
