package timelimit

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRunNoLimitsPassesThrough(t *testing.T) {
	res := Run(context.Background(), 0, 0, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	assert.Equal(t, "ok", res.Output)
	assert.NoError(t, res.Err)
}

func TestRunCompletesBeforeLimits(t *testing.T) {
	res := Run(context.Background(), 100*time.Millisecond, 200*time.Millisecond, func(ctx context.Context) (any, error) {
		return "fast", nil
	})
	assert.Equal(t, "fast", res.Output)
	assert.NoError(t, res.Err)
}

func TestRunSoftLimitExceeded(t *testing.T) {
	res := Run(context.Background(), 10*time.Millisecond, 500*time.Millisecond, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return "late", nil
	})
	assert.True(t, res.TimedOut)
	assert.Equal(t, domain.SoftTimeLimitExceeded{}, res.Err)
}

func TestRunHardLimitExceeded(t *testing.T) {
	res := Run(context.Background(), 0, 10*time.Millisecond, func(ctx context.Context) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "never", nil
	})
	assert.True(t, res.TimedOut)
	assert.True(t, res.Hard)
	assert.IsType(t, domain.TimeoutError{}, res.Err)
}
