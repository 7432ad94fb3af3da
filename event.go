package eventfold

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
//
// EventType must return a constant discriminant. It is stored on the envelope
// and used to decode the payload again, so it may never change once events
// carrying it have been appended.
type Event interface {
	AggregateID() string
	EventType() string
}

// Envelope is the stored unit of the log. Position and Version are assigned
// by the store on append; envelopes are never modified afterwards.
type Envelope struct {
	EventID     uuid.UUID
	Position    uint64
	Version     uint64
	AggregateID string
	TypeName    string
	Event       Event
	Metadata    map[string]any
	OccurredAt  time.Time
}

// StampEnvelopes wraps events into envelopes versioned expected+1, expected+2, ...
// Positions are left for the store to assign.
func StampEnvelopes(ctx context.Context, aggregateID string, expected Revision, events []Event, at time.Time) []*Envelope {
	metadata := MetadataFromContext(ctx)

	envelopes := make([]*Envelope, len(events))
	version := uint64(expected)
	for i, event := range events {
		version++
		md := make(map[string]any, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
		envelopes[i] = &Envelope{
			EventID:     uuid.New(),
			Version:     version,
			AggregateID: aggregateID,
			TypeName:    event.EventType(),
			Event:       event,
			Metadata:    md,
			OccurredAt:  at,
		}
	}
	return envelopes
}

// ValidateAppend checks a batch before any store touches it.
func ValidateAppend(aggregateID string, events []Event) error {
	if aggregateID == "" {
		return fmt.Errorf("append: %w: empty aggregate ID", ErrInvalidEventBatch)
	}
	if len(events) == 0 {
		return fmt.Errorf("append to stream %q: %w", aggregateID, ErrEmptyAppend)
	}
	for i, event := range events {
		if event == nil {
			return fmt.Errorf("append to stream %q: %w: event %d is nil", aggregateID, ErrInvalidEventBatch, i)
		}
		if event.AggregateID() != aggregateID {
			return fmt.Errorf(
				"append to stream %q: %w: event %d has different aggregate ID %q",
				aggregateID, ErrInvalidEventBatch, i, event.AggregateID(),
			)
		}
	}
	return nil
}
