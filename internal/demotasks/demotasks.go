// Package demotasks registers a handful of example task handlers the
// worker and beat binaries run out of the box, grounded on the shape of
// the teacher's evaluate handler (deserialize input, do work, return a
// serializable output) without any of its AI/document-specific logic.
package demotasks

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/taskqueue/internal/registry"
	"github.com/fairyhunter13/taskqueue/internal/serializer"
)

// EchoInput is the payload for the "echo" task.
type EchoInput struct {
	Message string `json:"message"`
}

// EchoOutput is the result of the "echo" task.
type EchoOutput struct {
	Message  string    `json:"message"`
	EchoedAt time.Time `json:"echoedAt"`
}

// PingOutput is the result of the "ping" task, used by beat's periodic
// health-check schedule entry.
type PingOutput struct {
	PingedAt time.Time `json:"pingedAt"`
}

// Register adds the demo task descriptors to reg, and their input types to
// types so the executor's named-deserialization path can resolve them.
func Register(reg *registry.Registry, types *serializer.TypeRegistry) {
	serializer.Register[EchoInput](types, "demotasks.EchoInput")

	reg.Register(&registry.TaskDescriptor{
		Name:          "echo",
		InputTypeName: "demotasks.EchoInput",
		Handler: func(ctx context.Context, input any) (any, error) {
			in, ok := input.(EchoInput)
			if !ok {
				return nil, fmt.Errorf("op=demotasks.echo: unexpected input type %T", input)
			}
			return EchoOutput{Message: in.Message, EchoedAt: time.Now()}, nil
		},
	})

	reg.Register(&registry.TaskDescriptor{
		Name: "ping",
		Handler: func(ctx context.Context, input any) (any, error) {
			return PingOutput{PingedAt: time.Now()}, nil
		},
	})
}
