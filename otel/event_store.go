package otel

import (
	"context"
	"io"
	"time"

	"github.com/terraskye/eventfold"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ eventfold.EventStore = (*TelemetryStore)(nil)

// TelemetryStore traces and measures every call to the wrapped store.
type TelemetryStore struct {
	next eventfold.EventStore
	cfg  *config
}

// WithEventStoreTelemetry wraps next. Span names default to
// "EventStore.<method>".
func WithEventStoreTelemetry(next eventfold.EventStore, options ...Option) *TelemetryStore {
	return &TelemetryStore{next: next, cfg: newConfig("EventStore", options)}
}

// Append injects the trace context into the appended envelopes' metadata so
// that whoever reads them later can continue the trace.
func (t *TelemetryStore) Append(ctx context.Context, aggregateID string, expected eventfold.Revision, events []eventfold.Event) (eventfold.AppendResult, error) {
	ctx, span := tracer.Start(ctx, t.cfg.operation(ctx)+".Append",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.cfg.attributes(ctx,
			AttrOperation.String("append"),
			AttrAggregateID.String(aggregateID),
			AttrExpectedVersion.Int64(int64(expected)),
			AttrEventCount.Int(len(events)),
		)...),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	md := make(map[string]any, len(carrier)+1)
	for key, value := range carrier {
		md[key] = value
	}
	if span.SpanContext().HasTraceID() {
		md["correlationId"] = span.SpanContext().TraceID().String()
	}
	ctx = eventfold.WithMetadata(ctx, md)

	start := time.Now()
	result, err := t.next.Append(ctx, aggregateID, expected, events)

	opAttr := metric.WithAttributes(AttrOperation.String("append"))
	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()), opAttr)
	EventStoreAppends.Add(ctx, 1)

	if err != nil {
		EventStoreErrors.Add(ctx, 1, opAttr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	EventsAppended.Add(ctx, int64(len(result.Envelopes)))
	StreamVersionGauge.Record(ctx, int64(result.NextExpectedVersion))
	span.SetAttributes(AttrStreamVersion.Int64(int64(result.NextExpectedVersion)))
	if n := len(result.Envelopes); n > 0 {
		span.SetAttributes(AttrEventGlobalPos.Int64(int64(result.Envelopes[n-1].Position)))
	}
	return result, nil
}

func (t *TelemetryStore) Load(ctx context.Context, aggregateID string) (*eventfold.Iterator[*eventfold.Envelope], error) {
	iter, err := t.next.Load(ctx, aggregateID)
	if err != nil {
		EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load")))
		return iter, err
	}
	EventStoreLoads.Add(ctx, 1)
	return t.observe(iter, "load", t.cfg.operation(ctx)+".Load", AttrAggregateID.String(aggregateID)), nil
}

func (t *TelemetryStore) LoadFromAll(ctx context.Context, from uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, from)
	if err != nil {
		EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load_all")))
		return iter, err
	}
	EventStoreLoads.Add(ctx, 1)
	return t.observe(iter, "load_all", t.cfg.operation(ctx)+".LoadFromAll", AttrEventGlobalPos.Int64(int64(from))), nil
}

// observe spans the consumption of iter: the span starts with the first
// Next and ends when the iterator is exhausted or fails.
func (t *TelemetryStore) observe(iter *eventfold.Iterator[*eventfold.Envelope], operation, name string, attrs ...attribute.KeyValue) *eventfold.Iterator[*eventfold.Envelope] {
	var (
		span      trace.Span
		startedAt time.Time
		count     int64
	)
	opAttr := metric.WithAttributes(AttrOperation.String(operation))

	return eventfold.NewIteratorFunc(func(ctx context.Context) (*eventfold.Envelope, error) {
		if span == nil {
			startedAt = time.Now()
			ctx, span = tracer.Start(ctx, name,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(t.cfg.attributes(ctx, append(attrs, AttrOperation.String(operation))...)...),
			)
		}

		if !iter.Next(ctx) {
			span.SetAttributes(AttrEventCount.Int64(count))
			EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()), opAttr)

			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(ctx, 1, opAttr)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, err
			}
			span.End()
			return nil, io.EOF
		}

		count++
		EventsLoaded.Add(ctx, 1, opAttr)
		return iter.Value(), nil
	})
}

func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
