package eventfold

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict is matched by every *StreamRevisionConflictError.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrCorruptLog is matched by every *CorruptLogError.
	ErrCorruptLog = errors.New("corrupt log")

	ErrUnknownEventType  = errors.New("unknown event type")
	ErrEmptyAppend       = errors.New("append requires at least one event")
	ErrInvalidEventBatch = errors.New("invalid event batch")
	ErrStoreClosed       = errors.New("event store closed")
)

// ValidationError reports a command whose preconditions do not hold.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StreamRevisionConflictError is returned by Append when the stream moved past
// the expected revision. Callers recover by reloading and deciding again.
type StreamRevisionConflictError struct {
	AggregateID      string
	ExpectedRevision Revision
	ActualRevision   Revision
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: (expected version %d, actual %d)",
		e.AggregateID, e.ExpectedRevision, e.ActualRevision)
}

func (e *StreamRevisionConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// CorruptLogError means a stream cannot be replayed: its versions have a gap
// or a duplicate, or a payload does not belong to the aggregate's event set.
type CorruptLogError struct {
	AggregateID string
	Version     uint64
	Reason      string
	Err         error
}

func (e *CorruptLogError) Error() string {
	msg := fmt.Sprintf("corrupt log for stream %q at version %d: %s", e.AggregateID, e.Version, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptLogError) Is(target error) bool { return target == ErrCorruptLog }

func (e *CorruptLogError) Unwrap() error { return e.Err }

type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError marks err as a backend failure. Conflicts and corrupt
// log errors are returned unchanged so callers keep matching them directly.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *EventStoreError
	if errors.As(err, &storeErr) || errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrCorruptLog) {
		return err
	}
	return &EventStoreError{Err: err}
}
