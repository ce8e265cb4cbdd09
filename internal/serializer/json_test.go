package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestJSONRoundTrip(t *testing.T) {
	j := NewJSON(nil)
	in := emailInput{To: "u@x", Subject: "s"}

	b, err := j.Serialize(in)
	require.NoError(t, err)

	var out emailInput
	require.NoError(t, j.Deserialize(b, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "application/json", j.ContentType())
}

func TestJSONDeserializeNamed(t *testing.T) {
	reg := NewTypeRegistry()
	Register[emailInput](reg, "emailInput")
	j := NewJSON(reg)

	b, err := j.Serialize(emailInput{To: "a@b", Subject: "hi"})
	require.NoError(t, err)

	out, err := j.DeserializeNamed(b, "emailInput")
	require.NoError(t, err)
	assert.Equal(t, emailInput{To: "a@b", Subject: "hi"}, out)

	_, err = j.DeserializeNamed(b, "unknownType")
	require.Error(t, err)
}

func TestJSONSerializeError(t *testing.T) {
	j := NewJSON(nil)
	_, err := j.Serialize(make(chan int))
	require.Error(t, err)
}
