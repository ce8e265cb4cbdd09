// Package dispatch implements the common "assemble a TaskMessage and
// publish it" primitive shared by every caller that submits a task
// signature: the typed client (package client), the Beat scheduler, and
// Canvas/Saga step submission. Factoring it out once keeps those four
// call sites from drifting on id generation, routing, or the Pending-state
// bookkeeping the teacher's EvaluateService.Enqueue does before handing
// off to its queue producer (internal/usecase/evaluate.go).
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/taskqueue/internal/delay"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/router"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// correlationEntropy backs ulid.New so auto-generated correlation ids stay
// lexicographically sortable by submission time, the same way the
// teacher's HTTP middleware mints request ids.
var correlationEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

func newCorrelationID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), correlationEntropy)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Options describes a single task submission. Queue is resolved via
// Dispatcher.Router when empty and a router is configured; otherwise it
// must be set explicitly.
type Options struct {
	TaskID        string
	Task          string `validate:"required"`
	Args          []byte
	Queue         string
	Priority      int `validate:"gte=0"`
	ETA           *time.Time
	Expires       *time.Time
	MaxRetries    *int
	CorrelationID string
	PartitionKey  string
	TenantID      string
	Headers       map[string]string
}

// Dispatcher holds the collaborators every submission path needs: a
// Broker to publish onto, an optional ResultBackend to seed the Pending
// state so WaitForResult has something to observe immediately, an
// optional Router for queue resolution, and an optional Delay dispatcher
// that holds back ETA-bearing messages until due instead of publishing
// them immediately. Delay may be nil, in which case ETA enforcement is
// left to the broker itself (the Redis broker routes future-ETA messages
// to its own delayed ZSET inside Publish).
type Dispatcher struct {
	Broker  domain.Broker
	Backend domain.ResultBackend
	Router  *router.Router
	Delay   *delay.Dispatcher
}

// Submit builds a domain.TaskMessage from opts, stores its initial Pending
// state (if a backend is configured), and publishes it. It returns the
// task id (opts.TaskID, or a freshly generated one).
func (d *Dispatcher) Submit(ctx context.Context, opts Options) (string, error) {
	if err := getValidator().Struct(opts); err != nil {
		var details []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s:%s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		}
		return "", fmt.Errorf("op=dispatch.submit: %w: %s", domain.ErrInvalidArgument, strings.Join(details, ","))
	}

	id := opts.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	queue := opts.Queue
	if queue == "" && d.Router != nil {
		queue = d.Router.Resolve(opts.Task, opts.TenantID)
	}

	msg := domain.TaskMessage{
		ID:            id,
		Task:          opts.Task,
		Queue:         queue,
		Args:          opts.Args,
		Timestamp:     time.Now(),
		ETA:           opts.ETA,
		Expires:       opts.Expires,
		Priority:      opts.Priority,
		MaxRetries:    opts.MaxRetries,
		CorrelationID: correlationID,
		PartitionKey:  opts.PartitionKey,
		TenantID:      opts.TenantID,
		Headers:       opts.Headers,
	}

	if d.Backend != nil {
		if err := d.Backend.Store(ctx, domain.TaskResult{TaskID: id, State: domain.StatePending}); err != nil {
			return "", fmt.Errorf("op=dispatch.submit: %w", err)
		}
	}
	if d.Delay != nil && msg.ETA != nil && msg.ETA.After(time.Now()) {
		d.Delay.Schedule(msg, *msg.ETA)
		return id, nil
	}
	if err := d.Broker.Publish(ctx, msg); err != nil {
		return "", fmt.Errorf("op=dispatch.submit: %w", err)
	}
	return id, nil
}
