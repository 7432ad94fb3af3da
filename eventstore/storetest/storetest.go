// Package storetest holds the behaviour every eventfold.EventStore must
// share. Store packages run it from their own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T, registry *eventfold.Registry) eventfold.EventStore {
//	        return memory.NewMemoryStore()
//	    })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/terraskye/eventfold"
)

// Opened starts a test stream.
type Opened struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (e Opened) AggregateID() string { return e.ID }
func (e Opened) EventType() string   { return "storetest.Opened" }

// Noted appends a line to a test stream.
type Noted struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (e Noted) AggregateID() string { return e.ID }
func (e Noted) EventType() string   { return "storetest.Noted" }

// Factory opens a fresh, empty store able to decode the suite's events
// through registry. The suite closes the store.
type Factory func(t *testing.T, registry *eventfold.Registry) eventfold.EventStore

// NewRegistry returns a registry with the suite's events.
func NewRegistry() *eventfold.Registry {
	r := eventfold.NewRegistry()
	if err := eventfold.RegisterEvent[Opened](r); err != nil {
		panic(err)
	}
	if err := eventfold.RegisterEvent[Noted](r); err != nil {
		panic(err)
	}
	return r
}

type testCase struct {
	name string
	fn   func(t *testing.T, store eventfold.EventStore)
}

var streamTests = []testCase{
	{"LoadUnknownStreamIsEmpty", testLoadUnknownStreamIsEmpty},
	{"AppendAssignsConsecutiveVersions", testAppendAssignsConsecutiveVersions},
	{"AppendRoundTripsPayloads", testAppendRoundTripsPayloads},
	{"AppendConflictWritesNothing", testAppendConflictWritesNothing},
	{"AppendRejectsMalformedBatch", testAppendRejectsMalformedBatch},
	{"PositionsIncreaseAcrossStreams", testPositionsIncreaseAcrossStreams},
	{"AppendCopiesContextMetadata", testAppendCopiesContextMetadata},
	{"ConcurrentWritersOneStream", testConcurrentWritersOneStream},
	{"ConcurrentWritersIndependentStreams", testConcurrentWritersIndependentStreams},
}

// globalTests assume the store starts out empty.
var globalTests = []testCase{
	{"LoadFromAllStartsAtPosition", testLoadFromAllStartsAtPosition},
}

// Run executes the whole conformance suite against stores produced by open.
// Every store must be empty when returned.
func Run(t *testing.T, open Factory) {
	run(t, open, append(append([]testCase{}, streamTests...), globalTests...))
}

// RunStreamTests executes only the cases that work against a shared,
// non-empty store, such as a live server.
func RunStreamTests(t *testing.T, open Factory) {
	run(t, open, streamTests)
}

func run(t *testing.T, open Factory, tests []testCase) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := open(t, NewRegistry())
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, store)
		})
	}
}

func load(t *testing.T, store eventfold.EventStore, id string) []*eventfold.Envelope {
	t.Helper()
	iter, err := store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", id, err)
	}
	envelopes, err := iter.All(context.Background())
	if err != nil {
		t.Fatalf("Load(%q) iterator error: %v", id, err)
	}
	return envelopes
}

func mustAppend(t *testing.T, store eventfold.EventStore, id string, expected eventfold.Revision, events ...eventfold.Event) eventfold.AppendResult {
	t.Helper()
	result, err := store.Append(context.Background(), id, expected, events)
	if err != nil {
		t.Fatalf("Append(%q, %d) error: %v", id, expected, err)
	}
	return result
}

func testLoadUnknownStreamIsEmpty(t *testing.T, store eventfold.EventStore) {
	if got := load(t, store, "never-written-"+uuid.NewString()); len(got) != 0 {
		t.Fatalf("expected empty stream, got %d envelopes", len(got))
	}
}

func testAppendAssignsConsecutiveVersions(t *testing.T, store eventfold.EventStore) {
	id := "stream-" + uuid.NewString()

	first := mustAppend(t, store, id, eventfold.NoStream,
		Opened{ID: id, Title: "a"},
		Noted{ID: id, Text: "one"},
	)
	if !first.Successful || first.NextExpectedVersion != 2 {
		t.Fatalf("first append: got %+v, want successful at version 2", first)
	}

	second := mustAppend(t, store, id, 2,
		Noted{ID: id, Text: "two"},
		Noted{ID: id, Text: "three"},
		Noted{ID: id, Text: "four"},
	)
	if second.NextExpectedVersion != 5 {
		t.Fatalf("second append: NextExpectedVersion = %d, want 5", second.NextExpectedVersion)
	}
	if len(second.Envelopes) != 3 {
		t.Fatalf("second append returned %d envelopes, want 3", len(second.Envelopes))
	}
	for i, env := range second.Envelopes {
		if want := uint64(3 + i); env.Version != want {
			t.Errorf("returned envelope %d: version %d, want %d", i, env.Version, want)
		}
	}

	envelopes := load(t, store, id)
	if len(envelopes) != 5 {
		t.Fatalf("expected 5 envelopes, got %d", len(envelopes))
	}
	for i, env := range envelopes {
		if want := uint64(i + 1); env.Version != want {
			t.Errorf("envelope %d: version %d, want %d", i, env.Version, want)
		}
		if env.AggregateID != id {
			t.Errorf("envelope %d: aggregate %q, want %q", i, env.AggregateID, id)
		}
		if env.EventID == uuid.Nil {
			t.Errorf("envelope %d: missing event id", i)
		}
		if env.OccurredAt.IsZero() {
			t.Errorf("envelope %d: missing timestamp", i)
		}
	}
}

func testAppendRoundTripsPayloads(t *testing.T, store eventfold.EventStore) {
	id := "stream-" + uuid.NewString()
	events := []eventfold.Event{
		Opened{ID: id, Title: "groceries"},
		Noted{ID: id, Text: "milk"},
	}
	result := mustAppend(t, store, id, eventfold.NoStream, events...)

	first := load(t, store, id)
	second := load(t, store, id)

	for i, env := range first {
		if !reflect.DeepEqual(env.Event, events[i]) {
			t.Errorf("envelope %d: payload %#v, want %#v", i, env.Event, events[i])
		}
		if env.TypeName != events[i].EventType() {
			t.Errorf("envelope %d: type name %q, want %q", i, env.TypeName, events[i].EventType())
		}
		if env.EventID != result.Envelopes[i].EventID || env.Position != result.Envelopes[i].Position {
			t.Errorf("envelope %d: loaded identity differs from appended", i)
		}
		if !reflect.DeepEqual(env.Event, second[i].Event) || env.Version != second[i].Version {
			t.Errorf("envelope %d: two loads disagree", i)
		}
	}
}

func testAppendConflictWritesNothing(t *testing.T, store eventfold.EventStore) {
	id := "stream-" + uuid.NewString()
	mustAppend(t, store, id, eventfold.NoStream, Opened{ID: id}, Noted{ID: id, Text: "x"})

	for _, expected := range []eventfold.Revision{0, 1, 3} {
		_, err := store.Append(context.Background(), id, expected, []eventfold.Event{
			Noted{ID: id, Text: "late-1"},
			Noted{ID: id, Text: "late-2"},
		})
		if !errors.Is(err, eventfold.ErrConcurrencyConflict) {
			t.Fatalf("expected %d: want concurrency conflict, got %v", expected, err)
		}

		var conflict *eventfold.StreamRevisionConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected *StreamRevisionConflictError, got %T", err)
		}
		if conflict.ExpectedRevision != expected || conflict.ActualRevision != 2 {
			t.Errorf("conflict = %+v, want expected %d actual 2", conflict, expected)
		}
	}

	if got := load(t, store, id); len(got) != 2 {
		t.Fatalf("conflicting appends must not write, stream has %d envelopes", len(got))
	}
}

func testAppendRejectsMalformedBatch(t *testing.T, store eventfold.EventStore) {
	id := "stream-" + uuid.NewString()

	_, err := store.Append(context.Background(), id, eventfold.NoStream, nil)
	if !errors.Is(err, eventfold.ErrEmptyAppend) {
		t.Errorf("empty batch: want ErrEmptyAppend, got %v", err)
	}

	_, err = store.Append(context.Background(), id, eventfold.NoStream, []eventfold.Event{
		Opened{ID: id},
		Noted{ID: "someone-else"},
	})
	if !errors.Is(err, eventfold.ErrInvalidEventBatch) {
		t.Errorf("foreign event: want ErrInvalidEventBatch, got %v", err)
	}

	if got := load(t, store, id); len(got) != 0 {
		t.Fatalf("rejected batches must not write, stream has %d envelopes", len(got))
	}
}

func testPositionsIncreaseAcrossStreams(t *testing.T, store eventfold.EventStore) {
	a, b := "a-"+uuid.NewString(), "b-"+uuid.NewString()

	var positions []uint64
	for i, step := range []struct {
		id       string
		expected eventfold.Revision
	}{{a, 0}, {b, 0}, {a, 1}, {b, 1}, {a, 2}} {
		res := mustAppend(t, store, step.id, step.expected, Noted{ID: step.id, Text: fmt.Sprint(i)})
		positions = append(positions, res.Envelopes[0].Position)
	}

	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			t.Fatalf("positions not strictly increasing: %v", positions)
		}
	}
}

func testLoadFromAllStartsAtPosition(t *testing.T, store eventfold.EventStore) {
	a, b := "a-"+uuid.NewString(), "b-"+uuid.NewString()
	mustAppend(t, store, a, 0, Opened{ID: a}, Noted{ID: a, Text: "1"})
	third := mustAppend(t, store, b, 0, Opened{ID: b})
	mustAppend(t, store, a, 2, Noted{ID: a, Text: "2"})

	iter, err := store.LoadFromAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("LoadFromAll error: %v", err)
	}
	all, err := iter.All(context.Background())
	if err != nil {
		t.Fatalf("LoadFromAll iterator error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 envelopes, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Position <= all[i-1].Position {
			t.Fatalf("global log out of order at %d", i)
		}
	}

	iter, err = store.LoadFromAll(context.Background(), third.Envelopes[0].Position)
	if err != nil {
		t.Fatalf("LoadFromAll error: %v", err)
	}
	tail, err := iter.All(context.Background())
	if err != nil {
		t.Fatalf("LoadFromAll iterator error: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 envelopes from position %d, got %d", third.Envelopes[0].Position, len(tail))
	}
	if tail[0].AggregateID != b || tail[1].AggregateID != a {
		t.Errorf("unexpected tail order: %q, %q", tail[0].AggregateID, tail[1].AggregateID)
	}
}

func testAppendCopiesContextMetadata(t *testing.T, store eventfold.EventStore) {
	id := "stream-" + uuid.NewString()
	ctx := eventfold.WithMetadata(context.Background(), map[string]any{"user": "alice"})

	if _, err := store.Append(ctx, id, 0, []eventfold.Event{Opened{ID: id}}); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	envelopes := load(t, store, id)
	if got := envelopes[0].Metadata["user"]; got != "alice" {
		t.Errorf("metadata user = %v, want alice", got)
	}
}

func testConcurrentWritersOneStream(t *testing.T, store eventfold.EventStore) {
	id := "stream-" + uuid.NewString()
	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(context.Background(), id, 0, []eventfold.Event{Opened{ID: id, Title: fmt.Sprint(i)}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, eventfold.ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("writer %d: unexpected error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || conflicts != writers-1 {
		t.Fatalf("got %d successes and %d conflicts, want 1 and %d", succeeded, conflicts, writers-1)
	}
	if got := load(t, store, id); len(got) != 1 {
		t.Fatalf("stream has %d envelopes, want 1", len(got))
	}
}

func testConcurrentWritersIndependentStreams(t *testing.T, store eventfold.EventStore) {
	const writers = 8
	prefix := uuid.NewString()

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("%s-%d", prefix, i)
			if _, err := store.Append(context.Background(), id, 0, []eventfold.Event{Opened{ID: id}}); err != nil {
				errs <- fmt.Errorf("writer %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
