package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepSnapshot struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(stepSnapshot{Name: "handler", Success: true})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"handler","success":true}`, string(data))
}

func TestUnmarshal(t *testing.T) {
	var s stepSnapshot
	err := Unmarshal([]byte(`{"name":"plugin:tsdb","success":false,"error":"timeout"}`), &s)
	require.NoError(t, err)
	assert.Equal(t, "plugin:tsdb", s.Name)
	assert.False(t, s.Success)
	assert.Equal(t, "timeout", s.Error)
}

func TestStringRoundTrip(t *testing.T) {
	str, err := MarshalToString([]stepSnapshot{{Name: "route", Success: true}})
	require.NoError(t, err)

	var out []stepSnapshot
	require.NoError(t, UnmarshalFromString(str, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "route", out[0].Name)
}

func TestUnmarshalFast(t *testing.T) {
	var m map[string]interface{}
	require.NoError(t, UnmarshalFast([]byte(`{"id":"123","params":{"temp":21.5}}`), &m))
	assert.Equal(t, "123", m["id"])
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"id":"1"}`)))
	assert.False(t, Valid([]byte(`{"id":`)))
	assert.False(t, Valid([]byte{0x01, 0x02}))
}
