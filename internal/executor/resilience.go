package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/observability"
)

// breakerRegistry lazily builds one observability.CircuitBreaker per task
// name, so a task that's failing repeatedly fails fast instead of burning
// concurrency slots on a handler that's unlikely to succeed.
type breakerRegistry struct {
	maxFailures      int
	timeout          time.Duration
	successThreshold float64

	mu       sync.Mutex
	breakers map[string]*observability.CircuitBreaker
}

func newBreakerRegistry(maxFailures int, timeout time.Duration, successThreshold float64) *breakerRegistry {
	return &breakerRegistry{
		maxFailures:      maxFailures,
		timeout:          timeout,
		successThreshold: successThreshold,
		breakers:         make(map[string]*observability.CircuitBreaker),
	}
}

func (r *breakerRegistry) get(taskName string) *observability.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[taskName]
	if !ok {
		cb = observability.NewCircuitBreaker(r.maxFailures, r.timeout, r.successThreshold)
		r.breakers[taskName] = cb
	}
	return cb
}

// errCircuitOpen is returned by invoke when a task's breaker is open; it
// flows through conclude into finishFailure like any other handler error.
type errCircuitOpen struct{ taskName string }

func (e errCircuitOpen) Error() string {
	return fmt.Sprintf("op=executor.invoke: circuit breaker open for task %q", e.taskName)
}

// backendCaller wraps result-backend state-update calls with an adaptive
// timeout: calls that consistently finish quickly get a tighter deadline,
// calls that time out or run long get more room, bounded between the
// configured min and max.
type backendCaller struct {
	timeouts *observability.AdaptiveTimeoutManager
}

func newBackendCaller(base, min, max time.Duration) *backendCaller {
	return &backendCaller{timeouts: observability.NewAdaptiveTimeoutManager(base, min, max)}
}

func (b *backendCaller) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := b.timeouts.WithTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	duration := time.Since(start)

	switch {
	case err == nil:
		b.timeouts.RecordSuccess(duration)
	case callCtx.Err() == context.DeadlineExceeded:
		b.timeouts.RecordTimeout()
	default:
		b.timeouts.RecordFailure(err)
	}
	return err
}
