package fixtures

import (
	"fmt"

	es "github.com/terraskye/eventfold"
)

// TestEvent is the event of the Counter aggregate. Type is returned as its
// EventType.
type TestEvent struct {
	ID   string
	Type string
	Data string
}

func (e TestEvent) AggregateID() string { return e.ID }
func (e TestEvent) EventType() string   { return e.Type }

// Events returns n TestEvents for one aggregate with data "event-1".."event-n".
func Events(aggregateID string, n int) []es.Event {
	events := make([]es.Event, n)
	for i := range events {
		events[i] = TestEvent{ID: aggregateID, Type: "TestEvent", Data: fmt.Sprintf("event-%d", i+1)}
	}
	return events
}

// Counter is a minimal aggregate folding TestEvents: it counts them and
// keeps the data of the last one.
type Counter struct {
	ID      string
	Count   int
	Last    string
	Version uint64
}

func (c Counter) AggregateVersion() uint64 { return c.Version }

func (c Counter) WithAggregateVersion(v uint64) Counter {
	c.Version = v
	return c
}

// ApplyCounter is the Evolver of Counter.
func ApplyCounter(c Counter, e TestEvent) Counter {
	c.ID = e.ID
	c.Count++
	c.Last = e.Data
	return c
}
