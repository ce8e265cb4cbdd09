package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsume(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "1", Queue: "q"}))

	ch, err := b.Consume(ctx, []string{"q"})
	require.NoError(t, err)

	select {
	case d := <-ch:
		assert.Equal(t, "1", d.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPriorityOrdering(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "low", Queue: "q", Priority: 1}))
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "high", Queue: "q", Priority: 9}))

	q := b.queueFor("q")
	first, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "high", first.ID)
}

func TestNackRequeuesImmediately(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "1", Queue: "q"}))
	ch, err := b.Consume(ctx, []string{"q"})
	require.NoError(t, err)

	d := <-ch
	require.NoError(t, b.Nack(ctx, d, true, 0))

	d2 := <-ch
	assert.Equal(t, "1", d2.Message.ID)
}

func TestDropOldestOverflow(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.DeclareQueue(ctx, "small", domain.QueueOptions{Capacity: 1, Overflow: domain.OverflowDropOldest}))
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "first", Queue: "small"}))
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "second", Queue: "small"}))

	n, err := b.QueueLength(ctx, "small")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg, ok := b.queueFor("small").pop()
	require.True(t, ok)
	assert.Equal(t, "second", msg.ID)
}
