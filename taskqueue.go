// Package taskqueue re-exports the external Client API (spec §6) from
// internal/client so callers depend on a single stable import path instead
// of reaching into internal/.
package taskqueue

import (
	"context"

	"github.com/fairyhunter13/taskqueue/internal/client"
	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Client bundles the dependencies Send and AsyncResult need.
type Client = client.Client

// SendOptions configures one Send call.
type SendOptions = client.SendOptions

// AsyncResult is a handle carrying a task id and a way to wait for its
// terminal result or revoke it.
type AsyncResult[Output any] = client.AsyncResult[Output]

// RevokeOptions configure how a revocation should be enforced.
type RevokeOptions = domain.RevokeOptions

// Send validates opts, submits task with input, and returns a typed
// AsyncResult handle.
func Send[Input, Output any](ctx context.Context, c *Client, task string, input Input, opts SendOptions) (*AsyncResult[Output], error) {
	return client.Send[Input, Output](ctx, c, task, input, opts)
}
