// Package memory implements domain.PartitionLockStore in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

type heldLock struct {
	holder    string
	expiresAt time.Time
}

// Store is an in-process domain.PartitionLockStore.
type Store struct {
	mu    sync.Mutex
	locks map[string]heldLock
}

// New constructs an empty Store.
func New() *Store {
	return &Store{locks: make(map[string]heldLock)}
}

func (s *Store) expired(l heldLock) bool {
	return !l.expiresAt.IsZero() && time.Now().After(l.expiresAt)
}

// TryAcquire implements domain.PartitionLockStore.
func (s *Store) TryAcquire(ctx context.Context, key, taskID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if ok && !s.expired(l) && l.holder != taskID {
		return false, nil
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.locks[key] = heldLock{holder: taskID, expiresAt: exp}
	return true, nil
}

// Release implements domain.PartitionLockStore.
func (s *Store) Release(ctx context.Context, key, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok || l.holder != taskID {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

// Extend implements domain.PartitionLockStore.
func (s *Store) Extend(ctx context.Context, key, taskID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok || l.holder != taskID || s.expired(l) {
		return false, nil
	}
	l.expiresAt = time.Now().Add(ttl)
	s.locks[key] = l
	return true, nil
}

// IsLocked implements domain.PartitionLockStore.
func (s *Store) IsLocked(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	return ok && !s.expired(l), nil
}

// Holder implements domain.PartitionLockStore.
func (s *Store) Holder(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok || s.expired(l) {
		return "", false, nil
	}
	return l.holder, true, nil
}
