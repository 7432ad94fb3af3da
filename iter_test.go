package eventfold_test

import (
	"context"
	"errors"
	"io"
	"testing"

	es "github.com/terraskye/eventfold"
)

func counting(items []int) (*es.Iterator[int], *int) {
	calls := 0
	return es.NewIteratorFunc(func(ctx context.Context) (int, error) {
		calls++
		if calls > len(items) {
			return 0, io.EOF
		}
		return items[calls-1], nil
	}), &calls
}

func TestIterator_YieldsInOrder(t *testing.T) {
	iter, _ := counting([]int{1, 2, 3})

	var got []int
	for iter.Next(t.Context()) {
		got = append(got, iter.Value())
	}

	if iter.Err() != nil {
		t.Fatalf("unexpected error: %v", iter.Err())
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
}

func TestIterator_EOFIsNotAnError(t *testing.T) {
	iter := es.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, io.EOF
	})

	items, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("expected nil error on EOF, got %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %v", items)
	}
}

func TestIterator_Error(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	iter := es.NewIteratorFunc(func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 7, nil
		}
		return 0, boom
	})

	items, err := iter.All(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if len(items) != 1 || items[0] != 7 {
		t.Fatalf("expected the items before the error, got %v", items)
	}
	if iter.Value() != 0 {
		t.Fatalf("expected zero Value after failure, got %v", iter.Value())
	}
}

func TestIterator_StopsAfterEOF(t *testing.T) {
	iter, calls := counting([]int{1})

	for iter.Next(t.Context()) {
	}
	for i := 0; i < 5; i++ {
		if iter.Next(t.Context()) {
			t.Fatal("Next returned true after EOF")
		}
	}

	if *calls != 2 {
		t.Fatalf("expected next func to be called twice, got %d", *calls)
	}
}

func TestIterator_ValueZeroBeforeNext(t *testing.T) {
	iter, _ := counting([]int{10})
	if v := iter.Value(); v != 0 {
		t.Fatalf("expected Value() to be zero before Next, got %v", v)
	}
}

func TestSliceIterator_CopiesInput(t *testing.T) {
	items := []string{"a", "b"}
	iter := es.NewSliceIterator(items)
	items[0] = "changed"

	got, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "a" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestSliceIterator_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	iter := es.NewSliceIterator([]int{1, 2, 3})

	if !iter.Next(ctx) {
		t.Fatal("expected first value")
	}
	cancel()

	if iter.Next(ctx) {
		t.Fatal("expected Next to stop after cancel")
	}
	if !errors.Is(iter.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", iter.Err())
	}
}

func BenchmarkIteratorNext(b *testing.B) {
	ctx := b.Context()
	items := []int{1, 2, 3, 4, 5}

	for n := 0; n < b.N; n++ {
		iter := es.NewSliceIterator(items)
		for iter.Next(ctx) {
			_ = iter.Value()
		}
	}
}

func BenchmarkIteratorAll(b *testing.B) {
	ctx := b.Context()
	items := []int{1, 2, 3, 4, 5}

	for n := 0; n < b.N; n++ {
		_, _ = es.NewSliceIterator(items).All(ctx)
	}
}
