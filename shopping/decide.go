package shopping

import (
	"github.com/terraskye/eventfold"
)

// Command is the closed set of commands accepted by a List.
type Command interface {
	eventfold.Command
	listCommand()
}

// CreateList brings a list into existence. The caller supplies the id.
type CreateList struct {
	ID   string
	Name string
}

func (c CreateList) AggregateID() string { return c.ID }
func (CreateList) listCommand()          {}

// RenameList asks for the list to be called Name.
type RenameList struct {
	ID   string
	Name string
}

func (c RenameList) AggregateID() string { return c.ID }
func (RenameList) listCommand()          {}

// Decide returns the events a command produces against the current list.
//
// Renaming a list to the name it already has produces no events.
func Decide(list List, cmd Command) ([]Event, error) {
	switch c := cmd.(type) {
	case CreateList:
		if err := requirePresent(c.ID, c.Name); err != nil {
			return nil, err
		}
		return []Event{ListCreated{ID: c.ID, Name: c.Name}}, nil

	case RenameList:
		if err := requirePresent(c.ID, c.Name); err != nil {
			return nil, err
		}
		if c.Name == list.Name {
			return nil, nil
		}
		return []Event{ListRenamed{ID: c.ID, Former: list.Name, New: c.Name}}, nil
	}
	return nil, &eventfold.ValidationError{Reason: "unsupported command"}
}

func requirePresent(id, name string) error {
	if id == "" {
		return &eventfold.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if name == "" {
		return &eventfold.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}
