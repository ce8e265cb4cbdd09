package canvas

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// Chord is a Group followed by a callback signature submitted once every
// child has succeeded. A chord does not fire its callback if any child
// ends in anything but Success.
type Chord struct {
	Group      *Group
	Callback   Signature
	Dispatcher *dispatch.Dispatcher
}

// Run executes the group to completion, then submits the callback with
// every child's result nested under its "groupResults" field.
func (c *Chord) Run(ctx context.Context) (string, error) {
	gr, err := c.Group.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("op=canvas.chord.run: %w", err)
	}
	resultBytes := make(map[string][]byte, len(gr.Results))
	for id, r := range gr.Results {
		if r.State != domain.StateSuccess {
			return "", fmt.Errorf("op=canvas.chord.run: group child %s ended in %s, callback not fired", id, r.State)
		}
		resultBytes[id] = r.Result
	}

	args := mergeGroupResults(resultBytes, c.Callback.Args)
	callbackID, err := c.Dispatcher.Submit(ctx, c.Callback.options(args))
	if err != nil {
		return "", fmt.Errorf("op=canvas.chord.run: submit callback %s: %w", c.Callback.Task, err)
	}
	return callbackID, nil
}
