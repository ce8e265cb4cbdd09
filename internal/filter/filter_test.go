package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handlerEcho(ctx context.Context, fc *Context, input any) (any, error) {
	return input, nil
}

func TestChainRunsHandlerWithNoFilters(t *testing.T) {
	c := NewChain(nil, nil, nil)
	out, err := c.Run(context.Background(), &Context{}, "hello", handlerEcho)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestPreFilterShortCircuits(t *testing.T) {
	pre := PreFilter(func(ctx context.Context, fc *Context, input any) (any, error, bool) {
		return "short-circuited", nil, true
	})
	c := NewChain([]PreFilter{pre}, nil, nil)
	out, err := c.Run(context.Background(), &Context{}, "hello", handlerEcho)
	require.NoError(t, err)
	assert.Equal(t, "short-circuited", out)
}

func TestPostFiltersRunInRegistrationOrder(t *testing.T) {
	var order []string
	p1 := PostFilter(func(ctx context.Context, fc *Context, input, output any) (any, error) {
		order = append(order, "p1")
		return output, nil
	})
	p2 := PostFilter(func(ctx context.Context, fc *Context, input, output any) (any, error) {
		order = append(order, "p2")
		return output, nil
	})
	c := NewChain(nil, []PostFilter{p1, p2}, nil)
	_, err := c.Run(context.Background(), &Context{}, "hello", handlerEcho)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, order)
}

func TestExceptionFilterRecovers(t *testing.T) {
	boom := Handler(func(ctx context.Context, fc *Context, input any) (any, error) {
		return nil, errors.New("boom")
	})
	ex := ExceptionFilter(func(ctx context.Context, fc *Context, input any, err error) (any, bool, error) {
		return "recovered", true, nil
	})
	c := NewChain(nil, nil, []ExceptionFilter{ex})
	out, err := c.Run(context.Background(), &Context{}, "hello", boom)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
}

func TestExceptionFiltersRunInReverseRegistrationOrder(t *testing.T) {
	var order []string
	e1 := ExceptionFilter(func(ctx context.Context, fc *Context, input any, err error) (any, bool, error) {
		order = append(order, "e1")
		return nil, false, err
	})
	e2 := ExceptionFilter(func(ctx context.Context, fc *Context, input any, err error) (any, bool, error) {
		order = append(order, "e2")
		return "recovered", true, nil
	})
	boom := Handler(func(ctx context.Context, fc *Context, input any) (any, error) {
		return nil, errors.New("boom")
	})
	c := NewChain(nil, nil, []ExceptionFilter{e1, e2})
	out, err := c.Run(context.Background(), &Context{}, "hello", boom)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	// e2 was registered last, so it runs first; it handles the error, which
	// stops the chain before e1.
	assert.Equal(t, []string{"e2"}, order)
}

func TestPropertiesThreadThroughFilters(t *testing.T) {
	pre := PreFilter(func(ctx context.Context, fc *Context, input any) (any, error, bool) {
		fc.Set("seen", true)
		return nil, nil, false
	})
	post := PostFilter(func(ctx context.Context, fc *Context, input, output any) (any, error) {
		v, ok := fc.Get("seen")
		assert.True(t, ok)
		assert.Equal(t, true, v)
		return output, nil
	})
	c := NewChain([]PreFilter{pre}, []PostFilter{post}, nil)
	_, err := c.Run(context.Background(), &Context{}, "hello", handlerEcho)
	require.NoError(t, err)
}
