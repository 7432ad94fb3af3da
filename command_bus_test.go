package eventfold

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type testCmd struct {
	ID string
}

func (c testCmd) AggregateID() string { return c.ID }

type otherCmd struct {
	ID string
}

func (c otherCmd) AggregateID() string { return c.ID }

// listCmd is a family of commands handled by one interface handler.
type listCmd interface {
	Command
	isListCmd()
}

type createCmd struct{ ID string }

func (c createCmd) AggregateID() string { return c.ID }
func (createCmd) isListCmd()            {}

func TestCommandBus_Success(t *testing.T) {
	bus := NewCommandBus(10, 2)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		return AppendResult{Successful: true, AggregateID: cmd.ID}, nil
	})

	res, err := bus.Dispatch(context.Background(), testCmd{ID: "abc"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !res.Successful || res.AggregateID != "abc" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCommandBus_RoutesByType(t *testing.T) {
	bus := NewCommandBus(10, 2)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		return AppendResult{AggregateID: "test"}, nil
	})
	Register(bus, func(ctx context.Context, cmd otherCmd) (AppendResult, error) {
		return AppendResult{AggregateID: "other"}, nil
	})
	Register(bus, func(ctx context.Context, cmd listCmd) (AppendResult, error) {
		return AppendResult{AggregateID: "list"}, nil
	})

	tests := []struct {
		cmd  Command
		want string
	}{
		{testCmd{ID: "1"}, "test"},
		{otherCmd{ID: "1"}, "other"},
		{createCmd{ID: "1"}, "list"},
	}
	for _, tt := range tests {
		res, err := bus.Dispatch(context.Background(), tt.cmd)
		if err != nil {
			t.Fatalf("%T: %v", tt.cmd, err)
		}
		if res.AggregateID != tt.want {
			t.Errorf("%T routed to %q, want %q", tt.cmd, res.AggregateID, tt.want)
		}
	}
}

func TestCommandBus_NoHandler(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	_, err := bus.Dispatch(context.Background(), testCmd{ID: "missing"})
	if err == nil {
		t.Fatalf("expected error for missing handler")
	}
}

func TestCommandBus_HandlerPanic(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		panic("boom")
	})

	if _, err := bus.Dispatch(context.Background(), testCmd{ID: "x"}); err == nil {
		t.Fatalf("expected panic recovery error")
	}

	// The worker survives the panic.
	Register(bus, func(ctx context.Context, cmd otherCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})
	if _, err := bus.Dispatch(context.Background(), otherCmd{ID: "x"}); err != nil {
		t.Fatalf("expected worker to keep running, got %v", err)
	}
}

func TestCommandBus_ContextCancelBeforeEnqueue(t *testing.T) {
	bus := NewCommandBus(0, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Dispatch(ctx, testCmd{ID: "slow"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCommandBus_ContextCancelWhileWaiting(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		time.Sleep(200 * time.Millisecond)
		return AppendResult{Successful: true}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := bus.Dispatch(ctx, testCmd{ID: "slow-op"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRegister_DuplicateHandlerPanics(t *testing.T) {
	bus := NewCommandBus(10, 1)
	defer bus.Stop()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate handler")
		}
	}()

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})
}

func TestCommandBus_Stop(t *testing.T) {
	bus := NewCommandBus(10, 1)

	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		return AppendResult{Successful: true}, nil
	})

	if _, err := bus.Dispatch(context.Background(), testCmd{ID: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Stop()
	bus.Stop()

	if _, err := bus.Dispatch(context.Background(), testCmd{ID: "x"}); !errors.Is(err, ErrCommandBusStopped) {
		t.Fatalf("expected ErrCommandBusStopped, got %v", err)
	}
}

func TestCommandBus_SerializesPerAggregate(t *testing.T) {
	bus := NewCommandBus(100, 4)
	defer bus.Stop()

	var (
		mu      sync.Mutex
		running = map[string]int{}
		overlap bool
	)
	Register(bus, func(ctx context.Context, cmd testCmd) (AppendResult, error) {
		mu.Lock()
		running[cmd.ID]++
		if running[cmd.ID] > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		running[cmd.ID]--
		mu.Unlock()
		return AppendResult{Successful: true}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := bus.Dispatch(context.Background(), testCmd{ID: fmt.Sprintf("agg-%d", i%3)}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if overlap {
		t.Fatal("commands for one aggregate ran concurrently")
	}
}

func TestCommandBus_ShardDeterministic(t *testing.T) {
	bus := NewCommandBus(10, 3)
	defer bus.Stop()

	if bus.shard("abc") != bus.shard("abc") {
		t.Fatalf("shard hashing not deterministic")
	}
	for _, id := range []string{"", "a", "list-uuid-1", "zzzzzzzz"} {
		if s := bus.shard(id); s < 0 || s >= 3 {
			t.Fatalf("shard(%q) = %d out of range", id, s)
		}
	}
}
