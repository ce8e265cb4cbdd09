package canvas

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
)

// Chain is an ordered list of signatures submitted one at a time, each
// triggered by the previous step's TaskSuccess signal.
type Chain struct {
	Steps      []Signature
	Dispatcher *dispatch.Dispatcher
	Bus        *signalbus.Bus
}

// ChainResult records every step's assigned task id and the final step's
// outcome.
type ChainResult struct {
	TaskIDs     []string
	FinalResult domain.TaskResult
}

// Run submits Steps[0], then waits on the bus for each step's outcome
// signal before submitting the next, blocking until the chain completes,
// a step ends in anything but Success, or ctx is cancelled.
func (c *Chain) Run(ctx context.Context) (*ChainResult, error) {
	sub := c.Bus.Subscribe(ctx)
	result := &ChainResult{}
	var previous []byte

	for i, step := range c.Steps {
		args := step.Args
		if i > 0 {
			args = mergeArgs(previous, step.Args)
		}
		id, err := c.Dispatcher.Submit(ctx, step.options(args))
		if err != nil {
			return result, fmt.Errorf("op=canvas.chain.run: submit step %d (%s): %w", i, step.Task, err)
		}
		result.TaskIDs = append(result.TaskIDs, id)

		sig, err := waitForSignal(ctx, sub, id)
		if err != nil {
			return result, fmt.Errorf("op=canvas.chain.run: await step %d (%s): %w", i, step.Task, err)
		}
		result.FinalResult = sig.Result
		if sig.Type != signalbus.TaskSuccess {
			return result, fmt.Errorf("op=canvas.chain.run: step %d (%s) ended in %s", i, step.Task, sig.Type)
		}
		previous = sig.Result.Result
	}
	return result, nil
}

// waitForSignal blocks on ch until a signal for taskID arrives, the bus
// channel closes, or ctx is cancelled.
func waitForSignal(ctx context.Context, ch <-chan signalbus.Signal, taskID string) (signalbus.Signal, error) {
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return signalbus.Signal{}, domain.ErrNotFound
			}
			if sig.TaskID == taskID {
				return sig, nil
			}
		case <-ctx.Done():
			return signalbus.Signal{}, ctx.Err()
		}
	}
}
