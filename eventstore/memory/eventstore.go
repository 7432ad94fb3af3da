package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/terraskye/eventfold"
)

var _ eventfold.EventStore = (*MemoryStore)(nil)

// stream holds one aggregate's envelopes. Its mutex serializes appends to
// the aggregate without blocking other aggregates.
type stream struct {
	mu        sync.Mutex
	envelopes []*eventfold.Envelope
}

// MemoryStore keeps the log in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*stream

	globalMu sync.RWMutex
	global   []*eventfold.Envelope

	now    func() time.Time
	closed bool
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock replaces the clock stamping OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) { m.now = now }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		streams: make(map[string]*stream),
		global:  make([]*eventfold.Envelope, 0),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MemoryStore) stream(aggregateID string, create bool) (*stream, error) {
	m.mu.RLock()
	s, ok := m.streams[aggregateID]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return nil, eventfold.ErrStoreClosed
	}
	if ok || !create {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.streams[aggregateID]; !ok {
		s = &stream{}
		m.streams[aggregateID] = s
	}
	return s, nil
}

func (m *MemoryStore) Append(ctx context.Context, aggregateID string, expected eventfold.Revision, events []eventfold.Event) (eventfold.AppendResult, error) {
	if err := eventfold.ValidateAppend(aggregateID, events); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}
	if err := ctx.Err(); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}

	s, err := m.stream(aggregateID, true)
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := eventfold.Revision(len(s.envelopes))
	if current != expected {
		return eventfold.AppendResult{AggregateID: aggregateID, NextExpectedVersion: uint64(current)},
			&eventfold.StreamRevisionConflictError{
				AggregateID:      aggregateID,
				ExpectedRevision: expected,
				ActualRevision:   current,
			}
	}

	envelopes := eventfold.StampEnvelopes(ctx, aggregateID, expected, events, m.now())

	// Positions are taken under the global lock so the global log stays
	// ordered by position.
	m.globalMu.Lock()
	for _, env := range envelopes {
		env.Position = uint64(len(m.global)) + 1
		m.global = append(m.global, env)
	}
	m.globalMu.Unlock()

	s.envelopes = append(s.envelopes, envelopes...)

	return eventfold.AppendResult{
		Successful:          true,
		AggregateID:         aggregateID,
		NextExpectedVersion: uint64(len(s.envelopes)),
		Envelopes:           envelopes,
	}, nil
}

func (m *MemoryStore) Load(ctx context.Context, aggregateID string) (*eventfold.Iterator[*eventfold.Envelope], error) {
	s, err := m.stream(aggregateID, false)
	if err != nil {
		return nil, fmt.Errorf("load stream %q: %w", aggregateID, err)
	}
	if s == nil {
		return eventfold.NewSliceIterator[*eventfold.Envelope](nil), nil
	}

	s.mu.Lock()
	envelopes := s.envelopes[:len(s.envelopes):len(s.envelopes)]
	s.mu.Unlock()

	return iterate(envelopes), nil
}

func (m *MemoryStore) LoadFromAll(ctx context.Context, from uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, eventfold.ErrStoreClosed
	}

	m.globalMu.RLock()
	all := m.global[:len(m.global):len(m.global)]
	m.globalMu.RUnlock()

	// Position p lives at index p-1.
	start := 0
	if from > 1 {
		start = int(min(from-1, uint64(len(all))))
	}
	return iterate(all[start:]), nil
}

func iterate(envelopes []*eventfold.Envelope) *eventfold.Iterator[*eventfold.Envelope] {
	index := 0
	return eventfold.NewIteratorFunc(func(ctx context.Context) (*eventfold.Envelope, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if index >= len(envelopes) {
			return nil, io.EOF
		}
		ev := envelopes[index]
		index++
		return ev, nil
	})
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
