package eventfold

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "StreamRevisionConflictError",
			err: &StreamRevisionConflictError{
				AggregateID:      "stream-123",
				ExpectedRevision: Revision(5),
				ActualRevision:   Revision(7),
			},
			want: `concurrency conflict on stream "stream-123": (expected version 5, actual 7)`,
		},
		{
			name: "ValidationError with field",
			err:  &ValidationError{Field: "name", Reason: "must not be empty"},
			want: "validation failed: name: must not be empty",
		},
		{
			name: "ValidationError without field",
			err:  &ValidationError{Reason: "list is archived"},
			want: "validation failed: list is archived",
		},
		{
			name: "CorruptLogError",
			err:  &CorruptLogError{AggregateID: "list-1", Version: 3, Reason: "version gap, expected 2"},
			want: `corrupt log for stream "list-1" at version 3: version gap, expected 2`,
		},
		{
			name: "CorruptLogError with cause",
			err:  &CorruptLogError{AggregateID: "list-1", Version: 1, Reason: "cannot decode", Err: ErrUnknownEventType},
			want: `corrupt log for stream "list-1" at version 1: cannot decode: unknown event type`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	conflict := &StreamRevisionConflictError{AggregateID: "a"}
	corrupt := &CorruptLogError{AggregateID: "a", Err: ErrUnknownEventType}
	invalid := &ValidationError{Field: "id"}

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"conflict", conflict, ErrConcurrencyConflict, true},
		{"wrapped conflict", fmt.Errorf("retries exhausted: %w", conflict), ErrConcurrencyConflict, true},
		{"conflict is not corrupt", conflict, ErrCorruptLog, false},
		{"corrupt", corrupt, ErrCorruptLog, true},
		{"corrupt cause", corrupt, ErrUnknownEventType, true},
		{"validation", fmt.Errorf("decide: %w", invalid), ErrValidation, true},
		{"validation is not conflict", invalid, ErrConcurrencyConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestWrapEventStoreError(t *testing.T) {
	cause := errors.New("disk full")

	wrapped := WrapEventStoreError(cause)
	var storeErr *EventStoreError
	if !errors.As(wrapped, &storeErr) || !errors.Is(wrapped, cause) {
		t.Fatalf("expected *EventStoreError wrapping cause, got %#v", wrapped)
	}

	if again := WrapEventStoreError(wrapped); again != wrapped {
		t.Errorf("wrapping twice must return the same error")
	}

	conflict := &StreamRevisionConflictError{AggregateID: "a"}
	if got := WrapEventStoreError(conflict); got != conflict {
		t.Errorf("conflicts must pass through unwrapped, got %v", got)
	}
	if WrapEventStoreError(nil) != nil {
		t.Errorf("nil must stay nil")
	}
}
