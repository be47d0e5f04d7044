package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Envelope Tests
// =============================================================================

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		payload  any
		wantData string
	}{
		{"struct", map[string]int{"id": 42}, `{"id":42}`},
		{"raw message", json.RawMessage(`{"limit":5}`), `{"limit":5}`},
		{"bytes", []byte(`{"a":1}`), `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope("deploy", tt.payload)
			require.NoError(t, err)
			assert.NotEmpty(t, env.ID)
			assert.Equal(t, "deploy", env.Name)
			assert.JSONEq(t, tt.wantData, string(env.Data))
			assert.Zero(t, env.Attempts)
		})
	}
}

func TestNewEnvelope_UniqueIDs(t *testing.T) {
	a, err := NewEnvelope("deploy", nil)
	require.NoError(t, err)
	b, err := NewEnvelope("deploy", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := NewEnvelope("create_DB", map[string]string{"nombre": "shop"})
	require.NoError(t, err)
	env.Attempts = 2
	raw, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, "create_DB", got.Name)
	assert.Equal(t, 2, got.Attempts)
	assert.JSONEq(t, `{"nombre":"shop"}`, string(got.Data))
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	for _, raw := range []string{"not json", `{"id":"x","data":{}}`} {
		_, err := DecodeEnvelope(raw)
		assert.ErrorIs(t, err, ErrMalformedEnvelope, raw)
	}
}

func TestSalvageEnvelope(t *testing.T) {
	env := salvageEnvelope(`{"id":"abc","name":"deploy","data":"not an object"`)
	assert.NotEmpty(t, env.ID)
	assert.Empty(t, env.Data)

	env = salvageEnvelope(`{"id":"abc","data":{}}`)
	assert.Equal(t, "abc", env.ID)
	assert.Empty(t, env.Name)
}

func TestDecodeEnvelope_AssignsMissingID(t *testing.T) {
	env, err := DecodeEnvelope(`{"name":"delete","data":{"id":1}}`)
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
}

func TestKeysFor(t *testing.T) {
	keys := KeysFor("deployer", "data_base")
	assert.Equal(t, "deployer:data_base:wait", keys.Wait)
	assert.Equal(t, "deployer:data_base:active", keys.Active)
	assert.Equal(t, "deployer:data_base:results", keys.Results)
}

func TestQueueError(t *testing.T) {
	err := NewQueueError("result", "deploy", "abc", ErrResultNotFound)
	assert.ErrorIs(t, err, ErrResultNotFound)
	assert.Equal(t, "queue deploy result job abc: job result not found", err.Error())

	err = NewQueueError("receive", "deploy", "", errors.New("i/o timeout"))
	assert.Equal(t, "queue deploy receive: i/o timeout", err.Error())
}

// =============================================================================
// Backoff Tests
// =============================================================================

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 800*time.Millisecond, b.Next())
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next())
}
