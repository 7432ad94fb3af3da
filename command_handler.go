package eventfold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxRetries is how many times a command is re-decided after losing
// an optimistic concurrency race before the conflict is returned.
const DefaultMaxRetries = 3

// DefaultRetryInterval is the pause between conflict retries.
const DefaultRetryInterval = 5 * time.Millisecond

// CommandHandler handles commands of type C against an event store.
//
// Handlers of this type are what the CommandBus dispatches to and what the
// logging and telemetry decorators wrap.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Decider determines which events should occur based on the current state and a command.
//
// T represents the aggregate state type.
// C represents the command type.
// E represents the aggregate's closed event set.
//
// A Decider must be pure. It returns a *ValidationError when the command's
// preconditions do not hold and an empty slice when the command would not
// change anything.
type Decider[T any, C Command, E Event] func(state T, cmd C) ([]E, error)

// CommandHandlerOption defines a function type that modifies handlerOptions.
// These options are applied when constructing a NewCommandHandler to customize behavior.
type CommandHandlerOption func(configuration *handlerOptions)

// NewCommandHandler returns a command handler running the optimistic
// read-decide-append cycle for one aggregate type:
//  1. Load the aggregate's stream and reduce it from initial.
//  2. Decide which events the command produces.
//  3. Append them at the observed version.
//
// A concurrency conflict on append restarts the cycle from a fresh load, up
// to DefaultMaxRetries times unless configured otherwise. Decide errors,
// load failures and corrupt streams are never retried.
//
// Example Usage:
//
//	handler := NewCommandHandler(store, shopping.List{}, shopping.Apply, shopping.Decide)
//	result, err := handler(ctx, shopping.CreateList{ID: "list-1", Name: "Groceries"})
func NewCommandHandler[T Aggregate[T], C Command, E Event](
	store EventStore,
	initial T,
	evolve Evolver[T, E],
	decide Decider[T, C, E],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	cfg := &handlerOptions{
		newRetryStrategy: constantRetry(DefaultMaxRetries),
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, command C) (AppendResult, error) {
		aggregateID := command.AggregateID()

		md := make(map[string]any)
		for _, fn := range cfg.metadataFuncs {
			for k, v := range fn(ctx) {
				md[k] = v
			}
		}
		ctx = WithMetadata(ctx, md)

		attempt := func() (AppendResult, error) {
			iter, err := store.Load(ctx, aggregateID)
			if err != nil {
				return AppendResult{AggregateID: aggregateID},
					backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: load failed: %w", command, aggregateID, err))
			}

			state, err := ReduceIterator(ctx, initial, evolve, iter)
			if err != nil {
				return AppendResult{AggregateID: aggregateID},
					backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: %w", command, aggregateID, err))
			}
			revision := Revision(state.AggregateVersion())

			decided, err := decide(state, command)
			if err != nil {
				return AppendResult{AggregateID: aggregateID, NextExpectedVersion: uint64(revision)},
					backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: decide: %w", command, aggregateID, err))
			}

			if len(decided) == 0 {
				return AppendResult{Successful: true, AggregateID: aggregateID, NextExpectedVersion: uint64(revision)}, nil
			}

			events := make([]Event, len(decided))
			for i, e := range decided {
				events[i] = e
			}

			result, err := store.Append(ctx, aggregateID, revision, events)
			if err != nil {
				if errors.Is(err, ErrConcurrencyConflict) {
					return AppendResult{AggregateID: aggregateID, NextExpectedVersion: uint64(revision)}, err
				}
				return result, backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: append failed: %w", command, aggregateID, err))
			}
			return result, nil
		}

		result, err := backoff.RetryWithData(attempt, backoff.WithContext(cfg.newRetryStrategy(), ctx))
		if errors.Is(err, ErrConcurrencyConflict) {
			err = fmt.Errorf("handle command %T for aggregate %q: retries exhausted: %w", command, aggregateID, err)
		}
		return result, err
	}
}

// handlerOptions defines configuration for a CommandHandler.
type handlerOptions struct {
	// newRetryStrategy builds a fresh backoff for every handled command.
	// BackOff values are stateful and cannot be shared between calls.
	newRetryStrategy func() backoff.BackOff

	// metadataFuncs enrich appended envelopes, applied in registration order.
	metadataFuncs []func(ctx context.Context) map[string]any
}

func constantRetry(maxRetries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(DefaultRetryInterval), maxRetries)
	}
}

// WithMaxRetries bounds the number of conflict retries. Zero disables retrying.
func WithMaxRetries(n uint64) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.newRetryStrategy = constantRetry(n) }
}

// WithRetryStrategy replaces the retry policy. The factory is called once per
// handled command.
//
// Usage:
//
//	handler := NewCommandHandler(store, initial, evolve, decide, WithRetryStrategy(func() backoff.BackOff {
//	    return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
//	}))
func WithRetryStrategy(strategy func() backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.newRetryStrategy = strategy }
}

// WithMetadataExtractor adds a metadata function to a NewCommandHandler.
//
// Each metadata function is called once per handled command and can inject
// key-value pairs into the appended envelopes. Extractors registered later
// override keys of earlier ones.
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.metadataFuncs = append(h.metadataFuncs, fn)
	}
}
