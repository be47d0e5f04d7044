package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is one job on the wire. Data is the job payload, kept raw so each
// handler decodes its own shape.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// NewEnvelope wraps payload into an envelope with a fresh id.
func NewEnvelope(name string, payload any) (*Envelope, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		data = raw
	}
	return &Envelope{
		ID:         uuid.NewString(),
		Name:       name,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// DecodeEnvelope parses a raw list item.
func DecodeEnvelope(raw string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Name == "" {
		return nil, fmt.Errorf("%w: missing job name", ErrMalformedEnvelope)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return &env, nil
}

// salvageEnvelope keeps what can be read from an item that failed to decode:
// its id and name when present. The id is fresh otherwise.
func salvageEnvelope(raw string) *Envelope {
	var partial struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	_ = json.Unmarshal([]byte(raw), &partial)
	if partial.ID == "" {
		partial.ID = uuid.NewString()
	}
	return &Envelope{ID: partial.ID, Name: partial.Name}
}

// Encode serializes the envelope for the list.
func (e *Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Keys are the redis keys of one named queue.
type Keys struct {
	Wait    string
	Active  string
	Results string
}

// KeysFor derives the keys of queue under prefix.
func KeysFor(prefix, queue string) Keys {
	base := prefix + ":" + queue
	return Keys{
		Wait:    base + ":wait",
		Active:  base + ":active",
		Results: base + ":results",
	}
}
