// Package kurrentdb stores the event log in a KurrentDB server. Every
// aggregate maps to one KurrentDB stream named after its id.
package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/terraskye/eventfold"
)

var _ eventfold.EventStore = (*EventStore)(nil)

const readAll = ^uint64(0)

type EventStore struct {
	client   *kurrentdb.Client
	registry *eventfold.Registry
	now      func() time.Time
}

// NewEventStore creates a KurrentDB-backed event store decoding payloads
// through registry.
func NewEventStore(client *kurrentdb.Client, registry *eventfold.Registry) *EventStore {
	return &EventStore{
		client:   client,
		registry: registry,
		now:      time.Now,
	}
}

// Connect opens a client for a connection string such as
// "kurrentdb://localhost:2113?tls=false".
func Connect(connectionString string, registry *eventfold.Registry) (*EventStore, error) {
	settings, err := kurrentdb.ParseConnectionString(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	client, err := kurrentdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return NewEventStore(client, registry), nil
}

func (e *EventStore) Append(ctx context.Context, aggregateID string, expected eventfold.Revision, events []eventfold.Event) (eventfold.AppendResult, error) {
	if err := eventfold.ValidateAppend(aggregateID, events); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}

	envelopes := eventfold.StampEnvelopes(ctx, aggregateID, expected, events, e.now())

	data := make([]kurrentdb.EventData, len(envelopes))
	for i, env := range envelopes {
		payload, err := json.Marshal(env.Event)
		if err != nil {
			return eventfold.AppendResult{AggregateID: aggregateID}, fmt.Errorf("encode event %q: %w", env.TypeName, err)
		}
		metadata, err := json.Marshal(env.Metadata)
		if err != nil {
			return eventfold.AppendResult{AggregateID: aggregateID}, fmt.Errorf("encode metadata for %q: %w", env.TypeName, err)
		}
		data[i] = kurrentdb.EventData{
			EventID:     env.EventID,
			EventType:   env.TypeName,
			ContentType: kurrentdb.ContentTypeJson,
			Data:        payload,
			Metadata:    metadata,
		}
	}

	opts := kurrentdb.AppendToStreamOptions{StreamState: kurrentdb.NoStream{}}
	if expected != eventfold.NoStream {
		// KurrentDB revisions start at 0, versions at 1.
		opts.StreamState = kurrentdb.StreamRevision{Value: uint64(expected) - 1}
	}

	if _, err := e.client.AppendToStream(ctx, aggregateID, opts, data...); err != nil {
		if hasCode(err, kurrentdb.ErrorCodeWrongExpectedVersion) {
			return eventfold.AppendResult{AggregateID: aggregateID}, &eventfold.StreamRevisionConflictError{
				AggregateID:      aggregateID,
				ExpectedRevision: expected,
				ActualRevision:   e.currentRevision(ctx, aggregateID),
			}
		}
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(fmt.Errorf("append to stream %q: %w", aggregateID, err))
	}

	// Read the batch back to learn the positions and timestamps the server
	// assigned.
	stored, err := e.read(ctx, aggregateID, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.StreamRevision{Value: uint64(expected)},
	}, uint64(len(envelopes)))
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}
	appended, err := stored.All(ctx)
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}
	for i, env := range envelopes {
		if i < len(appended) && appended[i].EventID == env.EventID {
			env.Position = appended[i].Position
			env.OccurredAt = appended[i].OccurredAt
		}
	}

	return eventfold.AppendResult{
		Successful:          true,
		AggregateID:         aggregateID,
		NextExpectedVersion: envelopes[len(envelopes)-1].Version,
		Envelopes:           envelopes,
	}, nil
}

// currentRevision reports the stream's version for conflict errors, or the
// NoStream revision when it cannot be determined.
func (e *EventStore) currentRevision(ctx context.Context, aggregateID string) eventfold.Revision {
	iter, err := e.read(ctx, aggregateID, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Backwards,
		From:      kurrentdb.End{},
	}, 1)
	if err != nil || !iter.Next(ctx) {
		return eventfold.NoStream
	}
	return eventfold.Revision(iter.Value().Version)
}

func (e *EventStore) Load(ctx context.Context, aggregateID string) (*eventfold.Iterator[*eventfold.Envelope], error) {
	return e.read(ctx, aggregateID, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.Start{},
	}, readAll)
}

func (e *EventStore) read(ctx context.Context, aggregateID string, opts kurrentdb.ReadStreamOptions, count uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	streamer, err := e.client.ReadStream(ctx, aggregateID, opts, count)
	if err != nil {
		if hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
			return eventfold.NewSliceIterator[*eventfold.Envelope](nil), nil
		}
		return nil, eventfold.WrapEventStoreError(fmt.Errorf("read stream %q: %w", aggregateID, err))
	}

	return eventfold.NewIteratorFunc(func(ctx context.Context) (*eventfold.Envelope, error) {
		if err := ctx.Err(); err != nil {
			streamer.Close()
			return nil, err
		}

		resolved, err := streamer.Recv()
		if err != nil {
			streamer.Close()
			if errors.Is(err, io.EOF) || hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
				return nil, io.EOF
			}
			return nil, eventfold.WrapEventStoreError(fmt.Errorf("read stream %q: %w", aggregateID, err))
		}
		return e.toEnvelope(resolved.OriginalEvent())
	}), nil
}

func (e *EventStore) LoadFromAll(ctx context.Context, from uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	opts := kurrentdb.ReadAllOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.Start{},
	}
	if from > 0 {
		opts.From = kurrentdb.Position{Commit: from, Prepare: from}
	}

	streamer, err := e.client.ReadAll(ctx, opts, readAll)
	if err != nil {
		return nil, eventfold.WrapEventStoreError(fmt.Errorf("read all from %d: %w", from, err))
	}

	return eventfold.NewIteratorFunc(func(ctx context.Context) (*eventfold.Envelope, error) {
		for {
			if err := ctx.Err(); err != nil {
				streamer.Close()
				return nil, err
			}

			resolved, err := streamer.Recv()
			if err != nil {
				streamer.Close()
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, eventfold.WrapEventStoreError(fmt.Errorf("read all: %w", err))
			}

			recorded := resolved.OriginalEvent()
			// System streams and events are part of $all but not of our log.
			if strings.HasPrefix(recorded.StreamID, "$") || strings.HasPrefix(recorded.EventType, "$") {
				continue
			}
			return e.toEnvelope(recorded)
		}
	}), nil
}

func (e *EventStore) toEnvelope(recorded *kurrentdb.RecordedEvent) (*eventfold.Envelope, error) {
	version := recorded.EventNumber + 1

	event, err := e.registry.DecodeEnvelopeEvent(recorded.StreamID, version, recorded.EventType, recorded.Data)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]any)
	if len(recorded.UserMetadata) > 0 {
		if err := json.Unmarshal(recorded.UserMetadata, &metadata); err != nil {
			return nil, &eventfold.CorruptLogError{AggregateID: recorded.StreamID, Version: version, Reason: "invalid metadata", Err: err}
		}
	}

	return &eventfold.Envelope{
		EventID:     recorded.EventID,
		Position:    recorded.Position.Commit,
		Version:     version,
		AggregateID: recorded.StreamID,
		TypeName:    recorded.EventType,
		Event:       event,
		Metadata:    metadata,
		OccurredAt:  recorded.CreatedDate,
	}, nil
}

func hasCode(err error, code kurrentdb.ErrorCode) bool {
	var kerr *kurrentdb.Error
	return errors.As(err, &kerr) && kerr.Code() == code
}

// Close closes the underlying client.
func (e *EventStore) Close() error {
	return e.client.Close()
}
