package fixtures

import (
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventfold"
)

// EnvelopeOption adjusts an envelope built by NewEnvelope.
type EnvelopeOption func(*es.Envelope)

// NewEnvelope wraps event at version and position 1.
func NewEnvelope(event es.Event, opts ...EnvelopeOption) *es.Envelope {
	env := &es.Envelope{
		EventID:     uuid.New(),
		AggregateID: event.AggregateID(),
		TypeName:    event.EventType(),
		Event:       event,
		Version:     1,
		Position:    1,
		OccurredAt:  time.Now(),
		Metadata:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// WithVersion sets the stream version, and the position along with it.
func WithVersion(v uint64) EnvelopeOption {
	return func(e *es.Envelope) {
		e.Version = v
		e.Position = v
	}
}

// EnvelopesFromEvents stamps events as one stream, versions 1..n.
func EnvelopesFromEvents(events ...es.Event) []*es.Envelope {
	envelopes := make([]*es.Envelope, len(events))
	for i, event := range events {
		envelopes[i] = NewEnvelope(event, WithVersion(uint64(i+1)))
	}
	return envelopes
}
