package shopping

import (
	"github.com/terraskye/eventfold"
)

// NewHandler wires the list aggregate to store.
func NewHandler(store eventfold.EventStore, opts ...eventfold.CommandHandlerOption) eventfold.CommandHandler[Command] {
	return eventfold.NewCommandHandler(store, List{}, Apply, Decide, opts...)
}
