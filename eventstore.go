package eventfold

import (
	"context"
)

// EventStore is the append-only log the command handler reads from and
// writes to.
//
// Implementations must guarantee:
//   - Load yields a stream's envelopes in ascending version order, and an
//     empty iterator (not an error) for an id that was never written.
//   - Append is atomic: either every event is stored with versions
//     expected+1, expected+2, ... or none is.
//   - Positions are unique across all streams and strictly increasing in
//     append order.
//   - Writers on different aggregate ids never conflict with each other.
type EventStore interface {
	// Load returns every envelope of the aggregate's stream, oldest first.
	Load(ctx context.Context, aggregateID string) (*Iterator[*Envelope], error)

	// Append stores events at the end of the aggregate's stream.
	//
	// Errors:
	//   - *StreamRevisionConflictError when the stream is not at expected.
	//   - ErrEmptyAppend / ErrInvalidEventBatch for a malformed batch.
	//   - Any store-specific persistence error, wrapped in *EventStoreError.
	Append(ctx context.Context, aggregateID string, expected Revision, events []Event) (AppendResult, error)

	// LoadFromAll yields envelopes of every stream with a position of at
	// least from, in position order.
	LoadFromAll(ctx context.Context, from uint64) (*Iterator[*Envelope], error)

	// Close releases any resources held by the store. Close is idempotent.
	Close() error
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	Successful          bool
	AggregateID         string
	NextExpectedVersion uint64
	Envelopes           []*Envelope
}
