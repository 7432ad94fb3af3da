package eventfold

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Registry maps stored type names back to concrete event types so that
// stores can decode payloads. Each store gets its own Registry; there is no
// package-level registration.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]func(data []byte) (Event, error)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[string]func(data []byte) (Event, error)),
	}
}

// RegisterEvent registers E under the name returned by its EventType.
// E is decoded as a value, so type switches over E keep matching after a
// round trip through a store.
//
// Example Usage:
//
//	registry := eventfold.NewRegistry()
//	eventfold.RegisterEvent[shopping.ListCreated](registry)
func RegisterEvent[E Event](r *Registry) error {
	var zero E
	name := zero.EventType()
	if name == "" {
		return fmt.Errorf("register %T: empty event type", zero)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[name]; exists {
		return fmt.Errorf("register %T: event already registered: %s", zero, name)
	}

	r.decoders[name] = func(data []byte) (Event, error) {
		var ev E
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode event %q: %w", name, err)
		}
		return ev, nil
	}
	return nil
}

// Decode rebuilds the event stored under name from its JSON payload.
func (r *Registry) Decode(name string, data []byte) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, name)
	}
	return decode(data)
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeEnvelopeEvent decodes a stored payload for the envelope at version
// of aggregateID. Unknown type names are reported as a corrupt log.
func (r *Registry) DecodeEnvelopeEvent(aggregateID string, version uint64, name string, data []byte) (Event, error) {
	ev, err := r.Decode(name, data)
	if err != nil {
		return nil, &CorruptLogError{
			AggregateID: aggregateID,
			Version:     version,
			Reason:      fmt.Sprintf("cannot decode payload of type %q", name),
			Err:         err,
		}
	}
	return ev, nil
}
