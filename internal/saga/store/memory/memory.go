// Package memory implements domain.SagaStore in process memory, for
// single-process deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Store is an in-process domain.SagaStore.
type Store struct {
	mu    sync.RWMutex
	sagas map[string]domain.Saga
}

// New constructs an empty Store.
func New() *Store {
	return &Store{sagas: make(map[string]domain.Saga)}
}

// Save implements domain.SagaStore, overwriting any prior record.
func (s *Store) Save(ctx context.Context, saga domain.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[saga.ID] = saga
	return nil
}

// Get implements domain.SagaStore.
func (s *Store) Get(ctx context.Context, sagaID string) (*domain.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saga, ok := s.sagas[sagaID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &saga, nil
}

// List implements domain.SagaStore.
func (s *Store) List(ctx context.Context) ([]domain.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Saga, 0, len(s.sagas))
	for _, saga := range s.sagas {
		out = append(out, saga)
	}
	return out, nil
}
