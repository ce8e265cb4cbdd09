package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	return New(testutil.MiniRedis(t))
}

func TestRevokeAndIsRevoked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "1", domain.RevokeOptions{Terminate: true}))

	revoked, err := s.IsRevoked(ctx, "1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestSubscribeReceivesEvent(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Revoke(ctx, "1", domain.RevokeOptions{Terminate: true}))

	select {
	case ev := <-ch:
		assert.Equal(t, "1", ev.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive revocation event")
	}
}

func TestCleanupDropsOldRevocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Revoke(ctx, "1", domain.RevokeOptions{}))

	n, err := s.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
