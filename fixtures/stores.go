package fixtures

import (
	"context"
	"sync"
	"time"

	es "github.com/terraskye/eventfold"
)

var _ es.EventStore = (*StoreSpy)(nil)

// StoreSpy is a configurable mock EventStore for testing.
// It tracks calls and allows injecting custom behavior or failures. Without
// overrides it behaves like a minimal in-memory store, including conflict
// detection.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	LoadFn   func(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error)
	AppendFn func(ctx context.Context, id string, expected es.Revision, events []es.Event) (es.AppendResult, error)

	// Call tracking
	LoadCalls   int
	AppendCalls int

	// Captured arguments from last call
	LastAppendEvents   []es.Event
	LastAppendExpected es.Revision
	LastAppendContext  context.Context
	LastLoadID         string

	// Pre-configured data
	events   map[string][]*es.Envelope // aggregateID -> envelopes
	position uint64

	// Error injection
	loadErr   error
	appendErr error
}

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		events: make(map[string][]*es.Envelope),
	}
}

// WithEvents pre-populates the store with events for a stream, versioned
// from 1.
func (s *StoreSpy) WithEvents(aggregateID string, events ...es.Event) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range EnvelopesFromEvents(events...) {
		s.position++
		env.Position = s.position
		s.events[aggregateID] = append(s.events[aggregateID], env)
	}
	return s
}

// FailOnLoad configures the store to return an error on load operations.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.loadErr = err
	return s
}

// FailOnAppend configures the store to return an error on append operations.
func (s *StoreSpy) FailOnAppend(err error) *StoreSpy {
	s.appendErr = err
	return s
}

// Load implements EventStore.Load.
func (s *StoreSpy) Load(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error) {
	s.mu.Lock()
	s.LoadCalls++
	s.LastLoadID = id
	s.mu.Unlock()

	if s.LoadFn != nil {
		return s.LoadFn(ctx, id)
	}

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	events := s.events[id]
	s.mu.Unlock()

	return es.NewSliceIterator(events), nil
}

// LoadFromAll implements EventStore.LoadFromAll.
func (s *StoreSpy) LoadFromAll(ctx context.Context, from uint64) (*es.Iterator[*es.Envelope], error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	all := make([]*es.Envelope, s.position)
	for _, events := range s.events {
		for _, env := range events {
			all[env.Position-1] = env
		}
	}
	s.mu.Unlock()

	if from > 0 {
		all = all[min(from-1, uint64(len(all))):]
	}
	return es.NewSliceIterator(all), nil
}

// Append implements EventStore.Append.
func (s *StoreSpy) Append(ctx context.Context, id string, expected es.Revision, events []es.Event) (es.AppendResult, error) {
	s.mu.Lock()
	s.AppendCalls++
	s.LastAppendEvents = events
	s.LastAppendExpected = expected
	s.LastAppendContext = ctx
	s.mu.Unlock()

	if s.AppendFn != nil {
		return s.AppendFn(ctx, id, expected, events)
	}

	if s.appendErr != nil {
		return es.AppendResult{AggregateID: id}, s.appendErr
	}

	return s.write(ctx, id, expected, events)
}

// write is the default append: conflict detection plus storage.
func (s *StoreSpy) write(ctx context.Context, id string, expected es.Revision, events []es.Event) (es.AppendResult, error) {
	if err := es.ValidateAppend(id, events); err != nil {
		return es.AppendResult{AggregateID: id}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := es.Revision(len(s.events[id]))
	if current != expected {
		return es.AppendResult{AggregateID: id}, &es.StreamRevisionConflictError{
			AggregateID:      id,
			ExpectedRevision: expected,
			ActualRevision:   current,
		}
	}

	envelopes := es.StampEnvelopes(ctx, id, expected, events, time.Now())
	for _, env := range envelopes {
		s.position++
		env.Position = s.position
	}
	s.events[id] = append(s.events[id], envelopes...)

	return es.AppendResult{
		Successful:          true,
		AggregateID:         id,
		NextExpectedVersion: envelopes[len(envelopes)-1].Version,
		Envelopes:           envelopes,
	}, nil
}

// Close implements EventStore.Close.
func (s *StoreSpy) Close() error { return nil }

// Envelopes returns what has been appended to a stream so far.
func (s *StoreSpy) Envelopes(id string) []*es.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*es.Envelope(nil), s.events[id]...)
}

// Pre-built store scenarios.

// StoreWithEvents returns a StoreSpy pre-populated with n test events.
func StoreWithEvents(aggregateID string, n int) *StoreSpy {
	return NewStoreSpy().WithEvents(aggregateID, Events(aggregateID, n)...)
}

// FailingStore returns a StoreSpy that fails on all operations.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnLoad(err).FailOnAppend(err)
}

// ConflictingStore returns a StoreSpy whose first n appends lose a race:
// each one writes a foreign TestEvent to the stream first and then reports
// the conflict, the way a concurrent writer would.
func ConflictingStore(n int) *StoreSpy {
	store := NewStoreSpy()
	conflicts := 0
	store.AppendFn = func(ctx context.Context, id string, expected es.Revision, events []es.Event) (es.AppendResult, error) {
		store.mu.Lock()
		lose := conflicts < n
		if lose {
			conflicts++
		}
		store.mu.Unlock()

		if lose {
			racer := TestEvent{ID: id, Type: "TestEvent", Data: "racer"}
			if _, err := store.write(ctx, id, expected, []es.Event{racer}); err != nil {
				return es.AppendResult{AggregateID: id}, err
			}
			return es.AppendResult{AggregateID: id}, &es.StreamRevisionConflictError{
				AggregateID:      id,
				ExpectedRevision: expected,
				ActualRevision:   expected + 1,
			}
		}
		return store.write(ctx, id, expected, events)
	}
	return store
}
