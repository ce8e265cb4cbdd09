// Package executor implements the worker executor: a pool of goroutines
// each leasing deliveries from a domain.Broker and running them through
// the twelve-step loop (spec §4.12), driving task state through
// domain.ResultBackend and emitting terminal outcomes onto signalbus for
// Canvas and Saga to consume. Grounded on the teacher's cmd/worker/main.go
// bootstrap shape (config → logger → metrics → repositories → consumer
// loop → graceful shutdown). Retry delays in backoff.go come from
// cenkalti/backoff's ExponentialBackOff.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/taskqueue/internal/config"
	"github.com/fairyhunter13/taskqueue/internal/delay"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/filter"
	"github.com/fairyhunter13/taskqueue/internal/observability"
	"github.com/fairyhunter13/taskqueue/internal/registry"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
	"github.com/fairyhunter13/taskqueue/internal/timelimit"
)

// Config holds the executor's tunables, sourced from config.Config.
type Config struct {
	Concurrency             int
	Queues                  []string
	ShutdownGrace           time.Duration
	PartitionLockDefaultTTL time.Duration
	Retry                   config.RetryBackoff

	CircuitBreakerMaxFailures      int
	CircuitBreakerTimeout          time.Duration
	CircuitBreakerSuccessThreshold float64

	BackendTimeoutBase time.Duration
	BackendTimeoutMin  time.Duration
	BackendTimeoutMax  time.Duration
}

// namedDeserializer is implemented by serializer.JSON; executor uses it to
// resolve a task's registered input type by name when deserializing args.
type namedDeserializer interface {
	DeserializeNamed(data []byte, typeName string) (any, error)
}

// Executor owns the worker pool.
type Executor struct {
	cfg         Config
	broker      domain.Broker
	backend     domain.ResultBackend
	registry    *registry.Registry
	serializer  domain.Serializer
	locks       domain.PartitionLockStore
	revocations domain.RevocationStore
	filters     *filter.Chain
	bus         *signalbus.Bus
	delay       *delay.Dispatcher
	logger      *slog.Logger

	breakers      *breakerRegistry
	backendCaller *backendCaller
}

// New constructs an Executor. filters may be an empty chain
// (filter.NewChain(nil, nil, nil)); delayDispatcher may be nil, in which
// case backoff-delayed requeues are acked and republished to the broker
// right away with the message's ETA set to the retry time.
func New(
	cfg Config,
	broker domain.Broker,
	backend domain.ResultBackend,
	reg *registry.Registry,
	ser domain.Serializer,
	locks domain.PartitionLockStore,
	revocations domain.RevocationStore,
	filters *filter.Chain,
	bus *signalbus.Bus,
	delayDispatcher *delay.Dispatcher,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.CircuitBreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	breakerTimeout := cfg.CircuitBreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	successThreshold := cfg.CircuitBreakerSuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 0.5
	}

	backendBase := cfg.BackendTimeoutBase
	if backendBase <= 0 {
		backendBase = 2 * time.Second
	}
	backendMin := cfg.BackendTimeoutMin
	if backendMin <= 0 {
		backendMin = 200 * time.Millisecond
	}
	backendMax := cfg.BackendTimeoutMax
	if backendMax <= 0 {
		backendMax = 10 * time.Second
	}

	return &Executor{
		cfg:           cfg,
		broker:        broker,
		backend:       backend,
		registry:      reg,
		serializer:    ser,
		locks:         locks,
		revocations:   revocations,
		filters:       filters,
		bus:           bus,
		delay:         delayDispatcher,
		logger:        logger,
		breakers:      newBreakerRegistry(maxFailures, breakerTimeout, successThreshold),
		backendCaller: newBackendCaller(backendBase, backendMin, backendMax),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// in-flight delivery has either finished or ShutdownGrace has elapsed. With
// ShutdownGrace <= 0 it returns as soon as ctx is cancelled, without waiting
// for in-flight deliveries.
func (e *Executor) Run(ctx context.Context) error {
	n := e.cfg.Concurrency
	if n <= 0 {
		n = runtime.NumCPU()
	}

	deliveries, err := e.broker.Consume(ctx, e.cfg.Queues)
	if err != nil {
		return fmt.Errorf("op=executor.run: %w", err)
	}

	var grp errgroup.Group
	for i := 0; i < n; i++ {
		grp.Go(func() error {
			for d := range deliveries {
				e.handleDelivery(ctx, d)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = grp.Wait()
		close(done)
	}()

	<-ctx.Done()
	if e.cfg.ShutdownGrace <= 0 {
		return nil
	}
	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGrace):
		e.logger.Warn("shutdown grace period elapsed with workers still in flight")
	}
	return nil
}

func (e *Executor) handleDelivery(ctx context.Context, d domain.Delivery) {
	msg := d.Message
	log := e.logger.With(slog.String("task_id", msg.ID), slog.String("task", msg.Task), slog.String("queue", msg.Queue))

	// Step 2: publish Received.
	if err := e.backend.UpdateState(ctx, msg.ID, domain.StateReceived, nil); err != nil {
		log.Error("publish received failed", slog.Any("error", err))
	}

	// Step 3: resolve the registered descriptor and deserialize args.
	desc, ok := e.registry.Lookup(msg.Task)
	if !ok {
		log.Warn("unknown task, rejecting without requeue")
		e.finishRejected(ctx, d, msg, false)
		return
	}

	input, err := e.deserializeInput(desc, msg.Args)
	if err != nil {
		log.Error("deserialize args failed", slog.Any("error", err))
		e.finishFailure(ctx, d, msg, err)
		return
	}

	// Step 4: revocation check.
	if e.revocations != nil {
		revoked, err := e.revocations.IsRevoked(ctx, msg.ID)
		if err != nil {
			log.Error("revocation check failed", slog.Any("error", err))
		} else if revoked {
			e.finishRevoked(ctx, d, msg, "revoked before start")
			return
		}
	}

	// Step 5: expiry check.
	if msg.Expires != nil && msg.Expires.Before(time.Now()) {
		e.finishRevoked(ctx, d, msg, "message expired")
		return
	}

	// Step 6: partition lock.
	var lockKey string
	var lockHeld bool
	if desc.PartitionKeyFunc != nil {
		if key, ok := desc.PartitionKeyFunc(input); ok {
			ttl := desc.HardTimeLimit
			if ttl <= 0 {
				ttl = e.cfg.PartitionLockDefaultTTL
			}
			acquired, err := e.locks.TryAcquire(ctx, key, msg.ID, ttl)
			if err != nil {
				log.Error("partition lock acquire failed", slog.String("key", key), slog.Any("error", err))
			}
			if err == nil && !acquired {
				observability.PartitionLockAcquisitionsTotal.WithLabelValues("denied").Inc()
				e.requeueDelayed(ctx, d, msg, calculateBackoff(e.cfg.Retry, 0))
				return
			}
			observability.PartitionLockAcquisitionsTotal.WithLabelValues("acquired").Inc()
			lockKey = key
			lockHeld = true
		}
	}
	// Step 11 (scoped on every exit path below this point).
	if lockHeld {
		defer func() {
			if _, err := e.locks.Release(ctx, lockKey, msg.ID); err != nil {
				log.Error("partition lock release failed", slog.String("key", lockKey), slog.Any("error", err))
			}
		}()
	}

	start := time.Now()
	fc := &filter.Context{TaskName: msg.Task, Queue: msg.Queue}
	output, err := e.filters.Run(ctx, fc, input, func(ctx context.Context, fc *filter.Context, input any) (any, error) {
		return e.invoke(ctx, desc, msg, input)
	})
	duration := time.Since(start)
	observability.TaskDuration.WithLabelValues(msg.Task).Observe(duration.Seconds())

	// Step 10: map outcome to terminal state.
	e.conclude(ctx, d, msg, desc, output, err, duration)
}

// invoke publishes Started and runs the handler inside the time-limit
// enforcer (step 8), attaching the TaskContext a handler reads via
// FromContext.
func (e *Executor) invoke(ctx context.Context, desc *registry.TaskDescriptor, msg domain.TaskMessage, input any) (any, error) {
	breaker := e.breakers.get(msg.Task)
	if !breaker.CanExecute() {
		return nil, errCircuitOpen{taskName: msg.Task}
	}

	if err := e.backendCaller.call(ctx, func(callCtx context.Context) error {
		return e.backend.UpdateState(callCtx, msg.ID, domain.StateStarted, nil)
	}); err != nil {
		e.logger.Error("publish started failed", slog.String("task_id", msg.ID), slog.Any("error", err))
	}
	observability.TasksInFlight.WithLabelValues(msg.Task).Inc()
	defer observability.TasksInFlight.WithLabelValues(msg.Task).Dec()

	tc := &TaskContext{
		TaskID:         msg.ID,
		TaskName:       msg.Task,
		Retries:        msg.Retries,
		TenantID:       msg.TenantID,
		CorrelationID:  msg.CorrelationID,
		ReportProgress: e.progressReporter(msg.ID),
	}

	result := timelimit.Run(ctx, desc.SoftTimeLimit, desc.HardTimeLimit, func(runCtx context.Context) (any, error) {
		return desc.Handler(withTaskContext(runCtx, tc), input)
	})

	if result.Err == nil {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
	}
	return result.Output, result.Err
}

func (e *Executor) progressReporter(taskID string) ReportProgressFunc {
	return func(ctx context.Context, percent float64) error {
		p := percent
		return e.backendCaller.call(ctx, func(callCtx context.Context) error {
			return e.backend.UpdateState(callCtx, taskID, domain.StateProgress, &domain.StateMetadata{Progress: &p})
		})
	}
}

func (e *Executor) deserializeInput(desc *registry.TaskDescriptor, args []byte) (any, error) {
	if desc.InputTypeName == "" {
		var out map[string]any
		if err := e.serializer.Deserialize(args, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	nd, ok := e.serializer.(namedDeserializer)
	if !ok {
		return nil, fmt.Errorf("op=executor.deserialize_input: %w: serializer does not support named types", domain.ErrSerializationError)
	}
	return nd.DeserializeNamed(args, desc.InputTypeName)
}

func (e *Executor) conclude(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, desc *registry.TaskDescriptor, output any, err error, duration time.Duration) {
	if err == nil {
		e.finishSuccess(ctx, d, msg, output, duration)
		return
	}

	var retry *domain.Retry
	if errors.As(err, &retry) {
		e.finishRetry(ctx, d, msg, desc, retry)
		return
	}

	var reject *domain.Reject
	if errors.As(err, &reject) {
		e.finishRejected(ctx, d, msg, reject.Requeue)
		return
	}

	var canceled domain.OperationCanceled
	if errors.As(err, &canceled) {
		e.finishRevoked(ctx, d, msg, canceled.Reason)
		return
	}

	e.finishFailure(ctx, d, msg, err)
}

func (e *Executor) finishSuccess(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, output any, duration time.Duration) {
	payload, err := e.serializer.Serialize(output)
	if err != nil {
		e.finishFailure(ctx, d, msg, err)
		return
	}
	now := time.Now()
	_ = e.backend.Store(ctx, domain.TaskResult{
		TaskID:      msg.ID,
		State:       domain.StateSuccess,
		Result:      payload,
		ContentType: e.serializer.ContentType(),
		CompletedAt: &now,
		Duration:    duration,
		Retries:     msg.Retries,
	})
	_ = e.broker.Ack(ctx, d)
	observability.TasksConsumedTotal.WithLabelValues(msg.Task, string(domain.StateSuccess)).Inc()
	e.bus.Publish(signalbus.Signal{Type: signalbus.TaskSuccess, TaskID: msg.ID, TaskName: msg.Task, Result: domain.TaskResult{TaskID: msg.ID, State: domain.StateSuccess, Result: payload}})
}

func (e *Executor) finishFailure(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, cause error) {
	now := time.Now()
	exc := &domain.ExceptionInfo{Type: fmt.Sprintf("%T", cause), Message: cause.Error()}
	_ = e.backend.Store(ctx, domain.TaskResult{
		TaskID:      msg.ID,
		State:       domain.StateFailure,
		Exception:   exc,
		CompletedAt: &now,
		Retries:     msg.Retries,
	})
	_ = e.broker.Ack(ctx, d)
	observability.TasksConsumedTotal.WithLabelValues(msg.Task, string(domain.StateFailure)).Inc()
	e.bus.Publish(signalbus.Signal{Type: signalbus.TaskFailure, TaskID: msg.ID, TaskName: msg.Task, Result: domain.TaskResult{TaskID: msg.ID, State: domain.StateFailure, Exception: exc}})
}

func (e *Executor) finishRejected(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, requeue bool) {
	_ = e.backend.UpdateState(ctx, msg.ID, domain.StateRejected, nil)
	_ = e.broker.Nack(ctx, d, requeue, 0)
	observability.TasksConsumedTotal.WithLabelValues(msg.Task, string(domain.StateRejected)).Inc()
	e.bus.Publish(signalbus.Signal{Type: signalbus.TaskRejected, TaskID: msg.ID, TaskName: msg.Task, Result: domain.TaskResult{TaskID: msg.ID, State: domain.StateRejected}})
}

func (e *Executor) finishRevoked(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, reason string) {
	_ = e.backend.UpdateState(ctx, msg.ID, domain.StateRevoked, nil)
	_ = e.broker.Ack(ctx, d)
	observability.TasksConsumedTotal.WithLabelValues(msg.Task, string(domain.StateRevoked)).Inc()
	e.bus.Publish(signalbus.Signal{Type: signalbus.TaskRevoked, TaskID: msg.ID, TaskName: msg.Task, Result: domain.TaskResult{TaskID: msg.ID, State: domain.StateRevoked}})
	_ = reason
}

// finishRetry requeues msg with an incremented retry count and exponential
// backoff, or falls through to Failure once max_retries is exhausted.
func (e *Executor) finishRetry(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, desc *registry.TaskDescriptor, retry *domain.Retry) {
	maxRetries := e.cfg.Retry.MaxRetries
	if desc.MaxRetries > 0 {
		maxRetries = desc.MaxRetries
	}
	if msg.Retries >= maxRetries {
		cause := error(retry)
		if retry.Cause != nil {
			cause = retry.Cause
		}
		e.finishFailure(ctx, d, msg, fmt.Errorf("retries exhausted: %w", cause))
		return
	}

	if err := e.backend.UpdateState(ctx, msg.ID, domain.StateRetry, nil); err != nil {
		e.logger.Error("publish retry state failed", slog.String("task_id", msg.ID), slog.Any("error", err))
	}
	observability.RetriesTotal.WithLabelValues(msg.Task).Inc()
	observability.TasksConsumedTotal.WithLabelValues(msg.Task, string(domain.StateRetry)).Inc()

	backoff := calculateBackoff(e.cfg.Retry, msg.Retries)
	if retry.Countdown != nil {
		backoff = *retry.Countdown
	}

	next := msg
	next.Retries = msg.Retries + 1
	next.Timestamp = time.Now()
	e.requeueDelayed(ctx, d, next, backoff)
}

// requeueDelayed acks the original delivery and republishes msg for
// delivery after delay, via the delay dispatcher's broker-agnostic heap
// when one is configured, or the broker's own ETA-aware Publish otherwise.
func (e *Executor) requeueDelayed(ctx context.Context, d domain.Delivery, msg domain.TaskMessage, delay time.Duration) {
	_ = e.broker.Ack(ctx, d)
	if delay <= 0 {
		_ = e.broker.Publish(ctx, msg)
		return
	}
	if e.delay != nil {
		e.delay.Schedule(msg, time.Now().Add(delay))
		return
	}
	due := time.Now().Add(delay)
	msg.ETA = &due
	_ = e.broker.Publish(ctx, msg)
}
