package demotasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskqueue/internal/registry"
	"github.com/fairyhunter13/taskqueue/internal/serializer"
)

func TestRegisterAddsEchoAndPing(t *testing.T) {
	reg := registry.New()
	types := serializer.NewTypeRegistry()
	Register(reg, types)

	_, ok := reg.Lookup("echo")
	require.True(t, ok)
	_, ok = reg.Lookup("ping")
	require.True(t, ok)
}

func TestEchoHandlerReturnsMessage(t *testing.T) {
	reg := registry.New()
	types := serializer.NewTypeRegistry()
	Register(reg, types)

	desc, ok := reg.Lookup("echo")
	require.True(t, ok)

	out, err := desc.Handler(context.Background(), EchoInput{Message: "hi"})
	require.NoError(t, err)
	echoed, ok := out.(EchoOutput)
	require.True(t, ok)
	assert.Equal(t, "hi", echoed.Message)
	assert.False(t, echoed.EchoedAt.IsZero())
}

func TestEchoHandlerRejectsWrongInputType(t *testing.T) {
	reg := registry.New()
	types := serializer.NewTypeRegistry()
	Register(reg, types)

	desc, ok := reg.Lookup("echo")
	require.True(t, ok)

	_, err := desc.Handler(context.Background(), "not an EchoInput")
	assert.Error(t, err)
}

func TestPingHandlerReturnsTimestamp(t *testing.T) {
	reg := registry.New()
	Register(reg, serializer.NewTypeRegistry())

	desc, ok := reg.Lookup("ping")
	require.True(t, ok)

	out, err := desc.Handler(context.Background(), nil)
	require.NoError(t, err)
	ping, ok := out.(PingOutput)
	require.True(t, ok)
	assert.False(t, ping.PingedAt.IsZero())
}
