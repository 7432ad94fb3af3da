package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// config holds the options for instrumenting a handler or store.
type config struct {
	// Operation prefixes span names, e.g. "EventStore" yields "EventStore.Append".
	Operation string

	// GetOperation is an optional function that can set the span name based on the existing operation
	// and information in the context.
	//
	// If the function is nil, or the returned operation is empty, the existing operation is used.
	GetOperation func(ctx context.Context, operation string) string

	// Attributes holds the default attributes for each span created by this middleware.
	Attributes []attribute.KeyValue

	// GetAttributes is an optional function that can extract trace attributes
	// from the context and add them to the span.
	GetAttributes func(ctx context.Context) []attribute.KeyValue
}

func newConfig(operation string, options []Option) *config {
	cfg := &config{Operation: operation}
	for _, o := range options {
		o.apply(cfg)
	}
	return cfg
}

func (c *config) operation(ctx context.Context) string {
	if c.GetOperation != nil {
		if op := c.GetOperation(ctx, c.Operation); op != "" {
			return op
		}
	}
	return c.Operation
}

func (c *config) attributes(ctx context.Context, attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(c.Attributes)+len(attrs))
	out = append(out, c.Attributes...)
	out = append(out, attrs...)
	if c.GetAttributes != nil {
		out = append(out, c.GetAttributes(ctx)...)
	}
	return out
}

// Option configures WithCommandTelemetry and WithEventStoreTelemetry.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithOperation replaces the default span name prefix.
func WithOperation(operation string) Option {
	return optionFunc(func(o *config) {
		o.Operation = operation
	})
}

// WithOperationGetter sets an operation name getter function in config.
func WithOperationGetter(fn func(ctx context.Context, name string) string) Option {
	return optionFunc(func(o *config) {
		o.GetOperation = fn
	})
}

// WithAttributes sets the default attributes for the spans created by the middleware.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.GetAttributes = fn
	})
}
