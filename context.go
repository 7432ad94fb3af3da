package eventfold

import (
	"context"
)

type ctxKey string

const (
	metadataKey  ctxKey = "metadata"
	causationKey ctxKey = "causation"
)

// WithMetadata returns a context whose metadata is the existing metadata
// merged with md. Later keys win. Stores copy this metadata onto every
// envelope they append under the context.
func WithMetadata(ctx context.Context, md map[string]any) context.Context {
	if len(md) == 0 {
		return ctx
	}
	existing := MetadataFromContext(ctx)
	merged := make(map[string]any, len(existing)+len(md))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataKey, merged)
}

// MetadataFromContext returns the metadata attached to ctx, or nil.
// The returned map must not be modified.
func MetadataFromContext(ctx context.Context) map[string]any {
	if v, ok := ctx.Value(metadataKey).(map[string]any); ok {
		return v
	}
	return nil
}

// WithCausationID records the id of whatever caused the upcoming append.
func WithCausationID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, causationKey, id)
	return WithMetadata(ctx, map[string]any{"causationId": id})
}

// CausationFromContext returns the causation id or "" if not present.
func CausationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(causationKey).(string); ok {
		return v
	}
	return ""
}
