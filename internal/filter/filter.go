// Package filter implements the pre/post/exception filter chain that wraps
// every task execution (spec §4.10), modeled on the teacher's chi
// middleware composition idiom: pre and post filters run in registration
// order, while exception filters run in reverse registration order so the
// first-registered ("outer-most") exception filter gets the last word.
package filter

import "context"

// Context carries mutable per-invocation state through the filter chain,
// letting filters communicate via Properties without changing the task's
// own input/output types.
type Context struct {
	TaskName   string
	Queue      string
	Properties map[string]any
}

// Set stores a property, lazily allocating the map.
func (c *Context) Set(key string, value any) {
	if c.Properties == nil {
		c.Properties = make(map[string]any)
	}
	c.Properties[key] = value
}

// Get retrieves a property previously set by an earlier filter.
func (c *Context) Get(key string) (any, bool) {
	if c.Properties == nil {
		return nil, false
	}
	v, ok := c.Properties[key]
	return v, ok
}

// Handler is the innermost task invocation a pre/post filter chain wraps.
type Handler func(ctx context.Context, fc *Context, input any) (any, error)

// PreFilter runs before the handler and may short-circuit by returning
// handled=true (its output becomes the result) or a non-nil error.
type PreFilter func(ctx context.Context, fc *Context, input any) (output any, err error, handled bool)

// PostFilter runs after a successful handler invocation and may transform
// the result.
type PostFilter func(ctx context.Context, fc *Context, input, output any) (any, error)

// ExceptionFilter runs after a failed handler invocation (or a pre/post
// filter error) and may suppress the error by returning handled=true (its
// recovered output becomes the result) or translate it by returning a
// non-nil newErr.
type ExceptionFilter func(ctx context.Context, fc *Context, input any, err error) (recovered any, handled bool, newErr error)

// Chain is an ordered, immutable set of filters wrapping a Handler. Build
// one with NewChain and reuse it across invocations; Chain itself holds no
// mutable state.
type Chain struct {
	pre       []PreFilter
	post      []PostFilter
	exception []ExceptionFilter
}

// NewChain constructs a Chain. Filters run in the order passed for pre and
// post, and in reverse order for exception (first-registered wraps
// outermost), mirroring typical middleware "onion" composition.
func NewChain(pre []PreFilter, post []PostFilter, exception []ExceptionFilter) *Chain {
	revException := make([]ExceptionFilter, len(exception))
	for i, e := range exception {
		revException[len(exception)-1-i] = e
	}
	return &Chain{pre: pre, post: post, exception: revException}
}

// Run executes the chain around handler.
func (c *Chain) Run(ctx context.Context, fc *Context, input any, handler Handler) (any, error) {
	output, err := c.runPreAndHandler(ctx, fc, input, handler)
	if err != nil {
		return c.runException(ctx, fc, input, err)
	}
	return c.runPost(ctx, fc, input, output)
}

func (c *Chain) runPreAndHandler(ctx context.Context, fc *Context, input any, handler Handler) (any, error) {
	for _, p := range c.pre {
		out, err, handled := p(ctx, fc, input)
		if err != nil {
			return nil, err
		}
		if handled {
			return out, nil
		}
	}
	return handler(ctx, fc, input)
}

func (c *Chain) runPost(ctx context.Context, fc *Context, input, output any) (any, error) {
	for _, p := range c.post {
		out, err := p(ctx, fc, input, output)
		if err != nil {
			return c.runException(ctx, fc, input, err)
		}
		output = out
	}
	return output, nil
}

func (c *Chain) runException(ctx context.Context, fc *Context, input any, err error) (any, error) {
	for _, e := range c.exception {
		recovered, handled, newErr := e(ctx, fc, input, err)
		if handled {
			return recovered, nil
		}
		if newErr != nil {
			err = newErr
		}
	}
	return nil, err
}
