package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/taskqueue/internal/config"
)

// calculateBackoff computes the delay before retry attempt number attempt
// (0-indexed), driven by a cenkalti/backoff/v4 ExponentialBackOff generator
// the same way the teacher's internal/adapter/ai/real.Client configures one
// per outbound call: base * multiplier^attempt, capped at MaxDelay, with a
// 10% randomization factor when Jitter is enabled.
func calculateBackoff(cfg config.RetryBackoff, attempt int) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = backoff.DefaultInitialInterval
	}
	maxInterval := cfg.MaxDelay
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	randomization := 0.0
	if cfg.Jitter {
		randomization = 0.1
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: randomization,
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay == backoff.Stop {
		delay = maxInterval
	}
	return delay
}
