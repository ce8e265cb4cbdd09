package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevokeAndIsRevoked(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Revoke(ctx, "1", domain.RevokeOptions{Terminate: true}))

	revoked, err := s.IsRevoked(ctx, "1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsRevoked(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeBatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.RevokeBatch(ctx, []string{"1", "2"}, domain.RevokeOptions{}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, "1", domain.RevokeOptions{Terminate: true}))

	select {
	case ev := <-ch:
		assert.Equal(t, "1", ev.TaskID)
		assert.True(t, ev.Options.Terminate)
	case <-time.After(time.Second):
		t.Fatal("did not receive revocation event")
	}
}

func TestCleanupDropsOldRevocations(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Revoke(ctx, "1", domain.RevokeOptions{}))

	n, err := s.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	revoked, err := s.IsRevoked(ctx, "1")
	require.NoError(t, err)
	assert.False(t, revoked)
}
