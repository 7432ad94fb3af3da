package eventfold

// Command is an intent to change one aggregate. It never carries the
// aggregate's derived state; the handler receives that separately.
type Command interface {
	AggregateID() string
}
