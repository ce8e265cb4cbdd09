// Package memory implements domain.RevocationStore in process memory,
// fanning out new revocations to subscribers via per-subscriber channels.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Store is an in-process domain.RevocationStore.
type Store struct {
	mu          sync.RWMutex
	revocations map[string]domain.Revocation
	subscribers map[chan domain.RevocationEvent]struct{}
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		revocations: make(map[string]domain.Revocation),
		subscribers: make(map[chan domain.RevocationEvent]struct{}),
	}
}

// Revoke implements domain.RevocationStore.
func (s *Store) Revoke(ctx context.Context, taskID string, opts domain.RevokeOptions) error {
	return s.RevokeBatch(ctx, []string{taskID}, opts)
}

// RevokeBatch implements domain.RevocationStore.
func (s *Store) RevokeBatch(ctx context.Context, taskIDs []string, opts domain.RevokeOptions) error {
	now := time.Now()
	s.mu.Lock()
	var events []domain.RevocationEvent
	for _, id := range taskIDs {
		s.revocations[id] = domain.Revocation{TaskID: id, Options: opts, RevokedAt: now}
		events = append(events, domain.RevocationEvent{TaskID: id, Options: opts, RevokedAt: now})
	}
	subs := make([]chan domain.RevocationEvent, 0, len(s.subscribers))
	for ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// IsRevoked implements domain.RevocationStore.
func (s *Store) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revocations[taskID]
	return ok, nil
}

// List implements domain.RevocationStore.
func (s *Store) List(ctx context.Context) ([]domain.Revocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Revocation, 0, len(s.revocations))
	for _, r := range s.revocations {
		out = append(out, r)
	}
	return out, nil
}

// Cleanup implements domain.RevocationStore, dropping tombstones older
// than maxAge.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.revocations {
		if r.RevokedAt.Before(cutoff) {
			delete(s.revocations, id)
			n++
		}
	}
	return n, nil
}

// Subscribe implements domain.RevocationStore. The returned channel is
// buffered and closed (and unregistered) when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.RevocationEvent, error) {
	ch := make(chan domain.RevocationEvent, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
