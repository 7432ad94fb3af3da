package eventfold

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
)

// ErrCommandBusStopped is returned by Dispatch after Stop.
var ErrCommandBusStopped = errors.New("command bus is stopped")

// queuedCommand represents a command enqueued in the command bus for processing.
type queuedCommand struct {
	Ctx        context.Context
	Command    Command
	ResponseCh chan<- commandResult
}

type commandResult struct {
	Result AppendResult
	Err    error
}

type registeredHandler struct {
	typ    reflect.Type
	handle func(ctx context.Context, command Command) (AppendResult, error)
}

// CommandBus is an in-process command dispatcher.
//
// Commands are routed to one of a fixed number of shards by a hash of their
// aggregate id. A shard processes its queue sequentially, so commands for
// one aggregate never race each other inside a process while different
// aggregates proceed in parallel. Conflicts with other processes are still
// resolved by the handler's optimistic retry.
type CommandBus struct {
	handlers []registeredHandler
	queues   []chan queuedCommand
	stopCh   chan struct{}
	stopOnce sync.Once
	inFlight sync.WaitGroup
	workers  sync.WaitGroup
	mu       sync.RWMutex
}

// NewCommandBus starts shardCount workers, each with a queue of bufferSize.
//
// Example:
//
//	bus := NewCommandBus(100, 8)
//	defer bus.Stop()
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}

	bus := &CommandBus{
		queues: make([]chan queuedCommand, shardCount),
		stopCh: make(chan struct{}),
	}

	for i := range bus.queues {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		bus.workers.Add(1)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// Dispatch enqueues a command for its registered handler and waits for the
// result. It is safe to call concurrently.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (AppendResult, error) {
	b.mu.RLock()
	select {
	case <-b.stopCh:
		b.mu.RUnlock()
		return AppendResult{Successful: false}, ErrCommandBusStopped
	default:
	}
	b.inFlight.Add(1)
	b.mu.RUnlock()
	defer b.inFlight.Done()

	responseCh := make(chan commandResult, 1)
	queue := b.queues[b.shard(cmd.AggregateID())]

	select {
	case queue <- queuedCommand{Ctx: ctx, Command: cmd, ResponseCh: responseCh}:
		select {
		case result := <-responseCh:
			return result.Result, result.Err
		case <-ctx.Done():
			return AppendResult{Successful: false}, ctx.Err()
		}
	case <-ctx.Done():
		return AppendResult{Successful: false}, ctx.Err()
	}
}

// worker processes commands from a single shard queue.
func (b *CommandBus) worker(queue chan queuedCommand) {
	defer b.workers.Done()

	for cmd := range queue {
		if err := cmd.Ctx.Err(); err != nil {
			cmd.ResponseCh <- commandResult{Err: err}
			continue
		}

		h, ok := b.lookup(cmd.Command)
		if !ok {
			cmd.ResponseCh <- commandResult{
				Result: AppendResult{Successful: false},
				Err:    fmt.Errorf("no handler for command %T", cmd.Command),
			}
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					cmd.ResponseCh <- commandResult{
						Result: AppendResult{Successful: false},
						Err:    fmt.Errorf("panic in handler for command %T: %v", cmd.Command, r),
					}
				}
			}()

			res, err := h(cmd.Ctx, cmd.Command)
			cmd.ResponseCh <- commandResult{Result: res, Err: err}
		}()
	}
}

// lookup prefers a handler registered for the command's exact type and
// falls back to the first registered interface the command implements.
func (b *CommandBus) lookup(cmd Command) (func(ctx context.Context, command Command) (AppendResult, error), bool) {
	t := reflect.TypeOf(cmd)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers {
		if h.typ == t {
			return h.handle, true
		}
	}
	for _, h := range b.handlers {
		if h.typ.Kind() == reflect.Interface && t.Implements(h.typ) {
			return h.handle, true
		}
	}
	return nil, false
}

func (b *CommandBus) shard(aggregateID string) int {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(aggregateID))
	return int(hash.Sum32() % uint32(len(b.queues)))
}

// Register adds a typed command handler to the bus. C may be a concrete
// command type or an interface covering a family of commands.
//
// Panics if a handler is already registered for C.
//
// Example:
//
//	Register(bus, shopping.NewHandler(store))
func Register[C Command](b *CommandBus, handler CommandHandler[C]) {
	typ := reflect.TypeFor[C]()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range b.handlers {
		if h.typ == typ {
			panic(fmt.Sprintf("handler already registered for command type %s", typ))
		}
	}

	b.handlers = append(b.handlers, registeredHandler{
		typ: typ,
		handle: func(ctx context.Context, cmd Command) (AppendResult, error) {
			c, ok := cmd.(C)
			if !ok {
				return AppendResult{Successful: false}, fmt.Errorf("expected command type %s but got %T", typ, cmd)
			}
			return handler(ctx, c)
		},
	})
}

// Stop stops accepting commands, waits for in-flight dispatches to finish
// and shuts the workers down. Stop is idempotent.
func (b *CommandBus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		close(b.stopCh)
		b.mu.Unlock()

		b.inFlight.Wait()
		for _, q := range b.queues {
			close(q)
		}
		b.workers.Wait()
	})
}
