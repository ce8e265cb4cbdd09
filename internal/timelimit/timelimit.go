// Package timelimit enforces the soft/hard time-limit pair every task
// executes under (spec §4.11): the soft limit cancels the task's context so
// a well-behaved handler can clean up and return domain.SoftTimeLimitExceeded;
// the hard limit, armed independently, cancels the task's context as well and
// reports domain.TimeoutError without waiting for the handler's goroutine if
// the handler still hasn't returned. Grounded
// on the teacher's paired-timer style in internal/observability/adaptive_timeout.go
// and circuit_breaker.go, generalized from a single adaptive timeout to a
// fixed soft/hard pair per spec.
package timelimit

import (
	"context"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Result is the outcome of a Run invocation.
type Result struct {
	Output   any
	Err      error
	TimedOut bool
	Hard     bool
}

// Run executes fn under soft and hard limits. soft <= 0 disables the soft
// limit; hard <= 0 disables the hard limit. If both are <=0, fn runs with
// ctx unmodified.
func Run(ctx context.Context, soft, hard time.Duration, fn func(ctx context.Context) (any, error)) Result {
	if soft <= 0 && hard <= 0 {
		out, err := fn(ctx)
		return Result{Output: out, Err: err}
	}

	runCtx := ctx
	var softCancel, hardCancel context.CancelFunc
	if soft > 0 {
		runCtx, softCancel = context.WithCancel(runCtx)
		defer softCancel()
	}
	if hard > 0 {
		runCtx, hardCancel = context.WithTimeout(runCtx, hard)
		defer hardCancel()
	}

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := fn(runCtx)
		done <- outcome{out, err}
	}()

	var softTimer, hardTimer *time.Timer
	var softCh, hardCh <-chan time.Time
	if soft > 0 {
		softTimer = time.NewTimer(soft)
		defer softTimer.Stop()
		softCh = softTimer.C
	}
	if hard > 0 {
		hardTimer = time.NewTimer(hard)
		defer hardTimer.Stop()
		hardCh = hardTimer.C
	}

	softFired := false
	for {
		select {
		case o := <-done:
			return Result{Output: o.out, Err: o.err}
		case <-softCh:
			softFired = true
			softCh = nil
			if softCancel != nil {
				softCancel()
			}
		case <-hardCh:
			return Result{Err: domain.TimeoutError{Limit: hard}, TimedOut: true, Hard: true}
		case <-ctx.Done():
			return Result{Err: ctx.Err(), TimedOut: true}
		}
		if softFired {
			select {
			case o := <-done:
				if o.err == nil {
					return Result{Output: o.out, Err: domain.SoftTimeLimitExceeded{}, TimedOut: true}
				}
				return Result{Output: o.out, Err: o.err, TimedOut: true}
			case <-hardCh:
				return Result{Err: domain.TimeoutError{Limit: hard}, TimedOut: true, Hard: true}
			}
		}
	}
}
