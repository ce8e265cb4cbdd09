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

func newTestBroker(t *testing.T) *Broker {
	return New(testutil.MiniRedis(t), 50*time.Millisecond)
}

func TestPublishConsumeAck(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "1", Queue: "q"}))

	ch, err := b.Consume(ctx, []string{"q"})
	require.NoError(t, err)

	d := <-ch
	assert.Equal(t, "1", d.Message.ID)
	require.NoError(t, b.Ack(ctx, d))

	n, err := b.QueueLength(ctx, "q"+processingQueueSuffix)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNackRequeueImmediate(t *testing.T) {
	b := newTestBroker(t)

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

func TestDelayedPublishPromotesWhenDue(t *testing.T) {
	b := newTestBroker(t)

	ctx := context.Background()
	eta := time.Now().Add(-time.Second)
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{ID: "1", Queue: "q", ETA: &eta}))

	n, err := b.PromoteDue(ctx, "q", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	length, err := b.QueueLength(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}
