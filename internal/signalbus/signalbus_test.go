package signalbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Publish(Signal{Type: TaskSuccess, TaskID: "1"})

	select {
	case sig := <-ch:
		assert.Equal(t, TaskSuccess, sig.Type)
		assert.Equal(t, "1", sig.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := b.Subscribe(ctx)
	c := b.Subscribe(ctx)
	b.Publish(Signal{Type: TaskFailure, TaskID: "2"})

	for _, ch := range []<-chan Signal{a, c} {
		select {
		case sig := <-ch:
			assert.Equal(t, TaskFailure, sig.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for signal")
		}
	}
}

func TestSubscribeClosesChannelOnContextCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}
