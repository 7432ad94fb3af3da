package eventfold

import (
	"context"
	"fmt"
)

// Aggregate is the constraint for state rebuilt by replay. T is the
// aggregate's own value type; WithAggregateVersion returns a copy stamped
// with the version of the last applied event.
type Aggregate[T any] interface {
	AggregateVersion() uint64
	WithAggregateVersion(version uint64) T
}

// Evolver applies one event of the aggregate's closed event set to state.
//
// It must be total and pure: no clocks, randomness or I/O, so replaying the
// same history always yields the same value.
type Evolver[T any, E Event] func(state T, event E) T

// Reduce folds envelopes onto initial in order.
//
// Each envelope must carry exactly the version following the state's
// current version, and a payload of type E. Anything else means the log is
// corrupt and a *CorruptLogError is returned together with the state built
// so far.
func Reduce[T Aggregate[T], E Event](initial T, evolve Evolver[T, E], envelopes []*Envelope) (T, error) {
	state := initial
	for _, envelope := range envelopes {
		var err error
		state, err = applyEnvelope(state, evolve, envelope)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// ReduceIterator is Reduce over a store iterator.
func ReduceIterator[T Aggregate[T], E Event](ctx context.Context, initial T, evolve Evolver[T, E], iter *Iterator[*Envelope]) (T, error) {
	state := initial
	for iter.Next(ctx) {
		var err error
		state, err = applyEnvelope(state, evolve, iter.Value())
		if err != nil {
			return state, err
		}
	}
	if err := iter.Err(); err != nil {
		return state, fmt.Errorf("replay: %w", err)
	}
	return state, nil
}

func applyEnvelope[T Aggregate[T], E Event](state T, evolve Evolver[T, E], envelope *Envelope) (T, error) {
	want := state.AggregateVersion() + 1
	switch {
	case envelope.Version < want:
		return state, &CorruptLogError{
			AggregateID: envelope.AggregateID,
			Version:     envelope.Version,
			Reason:      fmt.Sprintf("duplicate version, stream already at %d", want-1),
		}
	case envelope.Version > want:
		return state, &CorruptLogError{
			AggregateID: envelope.AggregateID,
			Version:     envelope.Version,
			Reason:      fmt.Sprintf("version gap, expected %d", want),
		}
	}

	event, ok := envelope.Event.(E)
	if !ok {
		return state, &CorruptLogError{
			AggregateID: envelope.AggregateID,
			Version:     envelope.Version,
			Reason:      fmt.Sprintf("event %q (%T) is not part of the aggregate's event set", envelope.TypeName, envelope.Event),
			Err:         ErrUnknownEventType,
		}
	}

	return evolve(state, event).WithAggregateVersion(envelope.Version), nil
}
