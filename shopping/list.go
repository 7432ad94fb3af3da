// Package shopping is a small shopping list aggregate. It exists to show
// the eventfold contracts end to end: a closed event set, a pure Apply and
// a pure Decide.
package shopping

import (
	"github.com/terraskye/eventfold"
)

// AggregateType names the stream family of lists.
const AggregateType = "shopping.list"

// List is the state of one shopping list rebuilt from its events. The zero
// value is a list that does not exist yet.
type List struct {
	ID      string
	Name    string
	Version uint64
}

func (l List) AggregateVersion() uint64 { return l.Version }

func (l List) WithAggregateVersion(version uint64) List {
	l.Version = version
	return l
}

// Exists reports whether the list has been created.
func (l List) Exists() bool { return l.ID != "" }

// Event is the closed set of events of a List. Only types in this package
// can implement it.
type Event interface {
	eventfold.Event
	listEvent()
}

// ListCreated establishes the list's identity.
type ListCreated struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e ListCreated) AggregateID() string { return e.ID }
func (e ListCreated) EventType() string   { return "CustomerCreatedList" }
func (ListCreated) listEvent()            {}

// ListRenamed changes the list's name from Former to New.
type ListRenamed struct {
	ID     string `json:"id"`
	Former string `json:"former"`
	New    string `json:"new"`
}

func (e ListRenamed) AggregateID() string { return e.ID }
func (e ListRenamed) EventType() string   { return "CustomerRenamedList" }
func (ListRenamed) listEvent()            {}

var (
	_ Event = ListCreated{}
	_ Event = ListRenamed{}
)

// Apply folds one event onto the list. The version is stamped by the
// reducer, not here. The id is taken from the first ListCreated only.
func Apply(list List, event Event) List {
	switch e := event.(type) {
	case ListCreated:
		if list.ID == "" {
			list.ID = e.ID
		}
		list.Name = e.Name
	case ListRenamed:
		list.Name = e.New
	}
	return list
}

// RegisterEvents makes the list events decodable by a store.
func RegisterEvents(registry *eventfold.Registry) error {
	if err := eventfold.RegisterEvent[ListCreated](registry); err != nil {
		return err
	}
	return eventfold.RegisterEvent[ListRenamed](registry)
}
