package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terraskye/eventfold"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithCommandTelemetry wraps a CommandHandler with OpenTelemetry tracing and metrics.
//
// Every command gets a span named "<operation> <command type>" (operation
// defaults to "command.handle") carrying the command type and aggregate id,
// and the resulting stream version once the handler returns.
//
// Metrics recorded:
//   - CommandsInFlight: increments/decrements in-flight commands.
//   - CommandsDuration: duration of command handling in milliseconds.
//   - CommandsHandled: successful commands.
//   - CommandsFailed: failed commands.
//   - ConcurrencyConflicts: commands that gave up after losing every retry.
//
// A rejected command (ErrValidation) is an expected outcome: the span keeps
// status Ok and gets a "validation_failed" event. Any other error marks the
// span as failed.
//
// Example Usage:
//
//	handler := otel.WithCommandTelemetry(shopping.NewHandler(store))
//	result, err := handler(ctx, shopping.CreateList{ID: "list-1", Name: "Groceries"})
func WithCommandTelemetry[C eventfold.Command](next eventfold.CommandHandler[C], options ...Option) eventfold.CommandHandler[C] {
	cfg := newConfig("command.handle", options)

	return func(ctx context.Context, cmd C) (eventfold.AppendResult, error) {
		commandType := fmt.Sprintf("%T", cmd)
		typeAttr := metric.WithAttributes(AttrCommandType.String(commandType))

		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", cfg.operation(ctx), commandType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(cfg.attributes(ctx,
				AttrCommandType.String(commandType),
				AttrAggregateID.String(cmd.AggregateID()),
			)...),
		)
		defer span.End()

		CommandsInFlight.Add(ctx, 1, typeAttr)
		defer CommandsInFlight.Add(ctx, -1, typeAttr)

		startTime := time.Now()
		result, err := next(ctx, cmd)
		CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

		span.SetAttributes(
			AttrStreamVersion.Int64(int64(result.NextExpectedVersion)),
			AttrEventCount.Int(len(result.Envelopes)),
		)

		if err == nil {
			span.SetStatus(codes.Ok, "")
			CommandsHandled.Add(ctx, 1, typeAttr)
			return result, nil
		}

		CommandsFailed.Add(ctx, 1, typeAttr)

		if errors.Is(err, eventfold.ErrConcurrencyConflict) {
			ConcurrencyConflicts.Add(ctx, 1, typeAttr)
			span.AddEvent("concurrency_conflict", trace.WithAttributes(
				AttrAggregateID.String(cmd.AggregateID()),
			))
		}

		if errors.Is(err, eventfold.ErrValidation) {
			span.SetStatus(codes.Ok, fmt.Sprintf("validation failed: %v", err))
			span.AddEvent("validation_failed", trace.WithAttributes(
				AttrCommandType.String(commandType),
				AttrAggregateID.String(cmd.AggregateID()),
				AttrStreamVersion.Int64(int64(result.NextExpectedVersion)),
			))
			return result, err
		}

		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return result, err
	}
}
