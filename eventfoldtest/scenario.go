// Package eventfoldtest runs given/when/then scenarios against an
// aggregate's Apply and Decide functions without any store.
//
//	eventfoldtest.New(shopping.List{}, shopping.Apply, shopping.Decide).
//	    Given(shopping.ListCreated{ID: "list-1", Name: "Groceries"}).
//	    When(shopping.RenameList{ID: "list-1", Name: "Weekend"}).
//	    ThenExpectEvents(t, shopping.ListRenamed{ID: "list-1", Former: "Groceries", New: "Weekend"})
package eventfoldtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraskye/eventfold"
)

// Scenario holds the prior history of one aggregate.
type Scenario[T eventfold.Aggregate[T], C eventfold.Command, E eventfold.Event] struct {
	initial T
	evolve  eventfold.Evolver[T, E]
	decide  eventfold.Decider[T, C, E]
	given   []E
}

// New starts a scenario with no prior events.
func New[T eventfold.Aggregate[T], C eventfold.Command, E eventfold.Event](
	initial T,
	evolve eventfold.Evolver[T, E],
	decide eventfold.Decider[T, C, E],
) *Scenario[T, C, E] {
	return &Scenario[T, C, E]{
		initial: initial,
		evolve:  evolve,
		decide:  decide,
	}
}

// Given returns a copy of the scenario with events appended to its history.
func (s *Scenario[T, C, E]) Given(events ...E) *Scenario[T, C, E] {
	next := *s
	next.given = append(append([]E(nil), s.given...), events...)
	return &next
}

// Replay folds the history through eventfold.Reduce. Events are versioned
// 1..n in the order given.
func (s *Scenario[T, C, E]) Replay() (T, error) {
	return eventfold.Reduce(s.initial, s.evolve, envelopes(s.given, 0))
}

// When decides cmd against the replayed history.
func (s *Scenario[T, C, E]) When(cmd C) *Outcome[T, E] {
	state, err := s.Replay()
	if err != nil {
		return &Outcome[T, E]{state: state, err: err}
	}

	events, err := s.decide(state, cmd)
	if err != nil {
		return &Outcome[T, E]{state: state, err: err}
	}

	after, err := eventfold.Reduce(state, s.evolve, envelopes(events, state.AggregateVersion()))
	return &Outcome[T, E]{state: after, events: events, err: err}
}

func envelopes[E eventfold.Event](events []E, from uint64) []*eventfold.Envelope {
	out := make([]*eventfold.Envelope, len(events))
	for i, e := range events {
		out[i] = &eventfold.Envelope{
			Version:     from + uint64(i) + 1,
			AggregateID: e.AggregateID(),
			TypeName:    e.EventType(),
			Event:       e,
		}
	}
	return out
}

// Outcome is the result of one command.
type Outcome[T eventfold.Aggregate[T], E eventfold.Event] struct {
	state  T
	events []E
	err    error
}

// Events returns the decided events, possibly none.
func (o *Outcome[T, E]) Events() []E { return o.events }

// Err returns the decide error, if any.
func (o *Outcome[T, E]) Err() error { return o.err }

// State returns the aggregate after the decided events were applied. When
// the command failed it is the state the command was decided against.
func (o *Outcome[T, E]) State() T { return o.state }

// ThenExpectEvents asserts the command succeeded and produced exactly want,
// in order.
func (o *Outcome[T, E]) ThenExpectEvents(t testing.TB, want ...E) *Outcome[T, E] {
	t.Helper()
	require.NoError(t, o.err)
	if len(want) == 0 {
		assert.Empty(t, o.events, "expected no events")
		return o
	}
	assert.Equal(t, want, o.events)
	return o
}

// ThenExpectNoEvents asserts the command succeeded without changing anything.
func (o *Outcome[T, E]) ThenExpectNoEvents(t testing.TB) *Outcome[T, E] {
	t.Helper()
	require.NoError(t, o.err)
	assert.Empty(t, o.events, "expected no events")
	return o
}

// ThenExpectError asserts the command failed with an error matching target.
func (o *Outcome[T, E]) ThenExpectError(t testing.TB, target error) *Outcome[T, E] {
	t.Helper()
	require.Error(t, o.err, "expected the command to fail")
	assert.ErrorIs(t, o.err, target)
	assert.Empty(t, o.events, "a failed command must not produce events")
	return o
}

// ThenExpectState asserts the aggregate state after the command.
func (o *Outcome[T, E]) ThenExpectState(t testing.TB, want T) *Outcome[T, E] {
	t.Helper()
	require.NoError(t, o.err)
	assert.Equal(t, want, o.state)
	return o
}
