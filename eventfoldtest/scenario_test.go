package eventfoldtest_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraskye/eventfold"
	"github.com/terraskye/eventfold/eventfoldtest"
)

type counter struct {
	ID      string
	Total   int
	Version uint64
}

func (c counter) AggregateVersion() uint64 { return c.Version }
func (c counter) WithAggregateVersion(v uint64) counter {
	c.Version = v
	return c
}

type added struct {
	ID string
	N  int
}

func (e added) AggregateID() string { return e.ID }
func (e added) EventType() string   { return "counter.Added" }

type add struct {
	ID string
	N  int
}

func (c add) AggregateID() string { return c.ID }

var errNegative = errors.New("negative amount")

func evolve(c counter, e added) counter {
	c.ID = e.ID
	c.Total += e.N
	return c
}

func decide(c counter, cmd add) ([]added, error) {
	switch {
	case cmd.N < 0:
		return nil, fmt.Errorf("add %d: %w", cmd.N, errNegative)
	case cmd.N == 0:
		return nil, nil
	}
	return []added{{ID: cmd.ID, N: cmd.N}}, nil
}

func newScenario() *eventfoldtest.Scenario[counter, add, added] {
	return eventfoldtest.New(counter{}, evolve, decide)
}

// recorder captures assertion failures instead of failing the test.
type recorder struct {
	testing.TB
	failures []string
}

func (r *recorder) Helper() {}
func (r *recorder) Errorf(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}
func (r *recorder) FailNow()     {}
func (r *recorder) Name() string { return "recorder" }

func TestWhen_NoHistory(t *testing.T) {
	newScenario().
		When(add{ID: "c", N: 2}).
		ThenExpectEvents(t, added{ID: "c", N: 2}).
		ThenExpectState(t, counter{ID: "c", Total: 2, Version: 1})
}

func TestWhen_WithHistory(t *testing.T) {
	outcome := newScenario().
		Given(added{ID: "c", N: 1}, added{ID: "c", N: 4}).
		When(add{ID: "c", N: 3})

	outcome.ThenExpectEvents(t, added{ID: "c", N: 3})
	assert.Equal(t, counter{ID: "c", Total: 8, Version: 3}, outcome.State())
}

func TestWhen_NoEvents(t *testing.T) {
	outcome := newScenario().
		Given(added{ID: "c", N: 1}).
		When(add{ID: "c", N: 0})

	outcome.ThenExpectNoEvents(t)
	outcome.ThenExpectEvents(t)
	assert.Equal(t, uint64(1), outcome.State().Version)
}

func TestWhen_Error(t *testing.T) {
	outcome := newScenario().When(add{ID: "c", N: -1})

	outcome.ThenExpectError(t, errNegative)
	assert.Nil(t, outcome.Events())
}

func TestGiven_DoesNotShareHistory(t *testing.T) {
	base := newScenario().Given(added{ID: "c", N: 1})
	left := base.Given(added{ID: "c", N: 10})
	right := base.Given(added{ID: "c", N: 100})

	l, err := left.Replay()
	require.NoError(t, err)
	r, err := right.Replay()
	require.NoError(t, err)
	b, err := base.Replay()
	require.NoError(t, err)

	assert.Equal(t, 11, l.Total)
	assert.Equal(t, 101, r.Total)
	assert.Equal(t, counter{ID: "c", Total: 1, Version: 1}, b)
}

func TestReplay_IsDeterministic(t *testing.T) {
	s := newScenario().Given(added{ID: "c", N: 1}, added{ID: "c", N: 2}, added{ID: "c", N: 3})

	first, err := s.Replay()
	require.NoError(t, err)
	second, err := s.Replay()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(3), first.Version)
}

func TestThen_ReportsMismatches(t *testing.T) {
	tests := []struct {
		name  string
		check func(tb testing.TB)
	}{
		{
			name: "wrong events",
			check: func(tb testing.TB) {
				newScenario().When(add{ID: "c", N: 2}).ThenExpectEvents(tb, added{ID: "c", N: 3})
			},
		},
		{
			name: "events where none expected",
			check: func(tb testing.TB) {
				newScenario().When(add{ID: "c", N: 2}).ThenExpectNoEvents(tb)
			},
		},
		{
			name: "error expected but succeeded",
			check: func(tb testing.TB) {
				newScenario().When(add{ID: "c", N: 2}).ThenExpectError(tb, errNegative)
			},
		},
		{
			name: "different error",
			check: func(tb testing.TB) {
				newScenario().When(add{ID: "c", N: -2}).ThenExpectError(tb, eventfold.ErrValidation)
			},
		},
		{
			name: "unexpected error",
			check: func(tb testing.TB) {
				newScenario().When(add{ID: "c", N: -2}).ThenExpectEvents(tb, added{ID: "c", N: -2})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tt.check(rec)
			if len(rec.failures) == 0 {
				t.Fatal("expected the assertion to fail")
			}
		})
	}
}
