package fixtures

// TestCommand targets a Counter. Data becomes the payload of the emitted
// TestEvent.
type TestCommand struct {
	ID   string
	Data string
}

func (c TestCommand) AggregateID() string { return c.ID }

// Commands against the same order stream.
var (
	CreateOrderCmd = TestCommand{ID: "order-1", Data: "create"}
	UpdateOrderCmd = TestCommand{ID: "order-1", Data: "update"}
)

// EmitData is a Decider emitting one TestEvent carrying the command's data,
// or nothing for a command without data.
func EmitData(_ Counter, cmd TestCommand) ([]TestEvent, error) {
	if cmd.Data == "" {
		return nil, nil
	}
	return []TestEvent{{ID: cmd.ID, Type: "TestEvent", Data: cmd.Data}}, nil
}
