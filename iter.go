package eventfold

import (
	"context"
	"errors"
	"io"
)

// Iterator is a pull iterator over values produced by a next function.
// Iteration ends when the function returns io.EOF (Err stays nil) or any
// other error (reported by Err). The function is never called again after
// either.
type Iterator[T any] struct {
	next    func(ctx context.Context) (T, error)
	current T
	err     error
	done    bool
}

// NewIteratorFunc creates an Iterator from a function producing the next value.
func NewIteratorFunc[T any](next func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{next: next}
}

// NewSliceIterator iterates over a copy of items.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	snapshot := make([]T, len(items))
	copy(snapshot, items)

	idx := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if idx >= len(snapshot) {
			return zero, io.EOF
		}
		v := snapshot[idx]
		idx++
		return v, nil
	})
}

// Next advances the iterator and reports whether a value is available.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	v, err := it.next(ctx)
	if err != nil {
		var zero T
		it.current = zero
		it.done = true
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}

	it.current = v
	return true
}

// Value returns the current value, or the zero value before the first Next.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that stopped iteration, nil on a clean end.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All consumes the iterator and returns all items in a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
