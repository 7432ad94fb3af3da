package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/terraskye/eventfold"
)

var _ eventfold.EventStore = (*loggingStore)(nil)

type loggingStore struct {
	logger *slog.Logger
	next   eventfold.EventStore
}

// WithStoreLogging logs every load and append on next. Successful calls are
// logged at debug level, failures at error level.
func WithStoreLogging(logger *slog.Logger, next eventfold.EventStore) eventfold.EventStore {
	return &loggingStore{logger: logger, next: next}
}

func (s *loggingStore) Append(ctx context.Context, aggregateID string, expected eventfold.Revision, events []eventfold.Event) (eventfold.AppendResult, error) {
	l := s.logger.With(
		"aggregate-id", aggregateID,
		"expected-version", uint64(expected),
		"count", len(events),
		"causation", eventfold.CausationFromContext(ctx),
	)

	result, err := s.next.Append(ctx, aggregateID, expected, events)
	if err != nil {
		l.ErrorContext(ctx, "append failed", "error", err)
		return result, err
	}

	l.DebugContext(ctx, "events appended", "version", result.NextExpectedVersion)
	return result, nil
}

func (s *loggingStore) Load(ctx context.Context, aggregateID string) (*eventfold.Iterator[*eventfold.Envelope], error) {
	l := s.logger.With("aggregate-id", aggregateID)

	iter, err := s.next.Load(ctx, aggregateID)
	if err != nil {
		l.ErrorContext(ctx, "load failed", "error", err)
		return nil, err
	}
	return s.observe(l, iter), nil
}

func (s *loggingStore) LoadFromAll(ctx context.Context, from uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	l := s.logger.With("from-position", from)

	iter, err := s.next.LoadFromAll(ctx, from)
	if err != nil {
		l.ErrorContext(ctx, "load from all failed", "error", err)
		return nil, err
	}
	return s.observe(l, iter), nil
}

// observe logs once the iterator ends: how many envelopes it yielded and
// the version of the last one.
func (s *loggingStore) observe(l *slog.Logger, iter *eventfold.Iterator[*eventfold.Envelope]) *eventfold.Iterator[*eventfold.Envelope] {
	var (
		count   int
		version uint64
	)
	return eventfold.NewIteratorFunc(func(ctx context.Context) (*eventfold.Envelope, error) {
		if !iter.Next(ctx) {
			if err := iter.Err(); err != nil {
				l.ErrorContext(ctx, "load interrupted", "count", count, "version", version, "error", err)
				return nil, err
			}
			l.DebugContext(ctx, "events loaded", "count", count, "version", version)
			return nil, io.EOF
		}
		env := iter.Value()
		count++
		version = env.Version
		return env, nil
	})
}

func (s *loggingStore) Close() error {
	if err := s.next.Close(); err != nil {
		s.logger.Error("close failed", "error", err)
		return err
	}
	return nil
}
