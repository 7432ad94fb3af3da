package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	es "github.com/terraskye/eventfold"
	"github.com/terraskye/eventfold/eventstore/memory"
	"github.com/terraskye/eventfold/eventstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, _ *es.Registry) es.EventStore {
		return memory.NewMemoryStore()
	})
}

func TestAppend_UsesClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewMemoryStore(memory.WithClock(func() time.Time { return at }))
	defer store.Close()

	res, err := store.Append(context.Background(), "a", es.NoStream, []es.Event{storetest.Opened{ID: "a"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !res.Envelopes[0].OccurredAt.Equal(at) {
		t.Errorf("OccurredAt = %v, want %v", res.Envelopes[0].OccurredAt, at)
	}
}

func TestAppend_PositionsAreContiguous(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Append(ctx, "a", 0, []es.Event{storetest.Opened{ID: "a"}, storetest.Noted{ID: "a"}}); err != nil {
		t.Fatalf("append a: %v", err)
	}
	res, err := store.Append(ctx, "b", 0, []es.Event{storetest.Opened{ID: "b"}})
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	if got := res.Envelopes[0].Position; got != 3 {
		t.Errorf("position = %d, want 3", got)
	}
}

func TestLoadFromAll_PastTheEnd(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Append(ctx, "a", 0, []es.Event{storetest.Opened{ID: "a"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	iter, err := store.LoadFromAll(ctx, 10)
	if err != nil {
		t.Fatalf("LoadFromAll: %v", err)
	}
	items, err := iter.All(ctx)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected nothing past the end, got %d", len(items))
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	if _, err := store.Append(context.Background(), "a", 0, []es.Event{storetest.Opened{ID: "a"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	iter, err := store.Load(context.Background(), "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if iter.Next(ctx) {
		t.Fatal("expected Next to stop on canceled context")
	}
	if !errors.Is(iter.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", iter.Err())
	}
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	store := memory.NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_, err := store.Append(context.Background(), "a", 0, []es.Event{storetest.Opened{ID: "a"}})
	if !errors.Is(err, es.ErrStoreClosed) {
		t.Errorf("append after close: want ErrStoreClosed, got %v", err)
	}
	if _, err := store.Load(context.Background(), "a"); !errors.Is(err, es.ErrStoreClosed) {
		t.Errorf("load after close: want ErrStoreClosed, got %v", err)
	}
}
