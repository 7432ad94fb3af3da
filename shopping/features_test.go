package shopping_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/cucumber/godog"
	"github.com/terraskye/eventfold"
	"github.com/terraskye/eventfold/eventfoldtest"
	"github.com/terraskye/eventfold/shopping"
)

type listTestContext struct {
	given   []shopping.Event
	outcome *eventfoldtest.Outcome[shopping.List, shopping.Event]
	state   shopping.List
	err     error
}

func (c *listTestContext) reset() {
	*c = listTestContext{}
}

func (c *listTestContext) scenario() *eventfoldtest.Scenario[shopping.List, shopping.Command, shopping.Event] {
	return scenario().Given(c.given...)
}

func (c *listTestContext) noPriorEvents() error {
	c.given = nil
	return nil
}

func (c *listTestContext) listWasCreated(id, name string) error {
	c.given = append(c.given, shopping.ListCreated{ID: id, Name: name})
	return nil
}

func (c *listTestContext) listWasRenamed(id, former, name string) error {
	c.given = append(c.given, shopping.ListRenamed{ID: id, Former: former, New: name})
	return nil
}

func (c *listTestContext) handle(cmd shopping.Command) error {
	c.outcome = c.scenario().When(cmd)
	c.state = c.outcome.State()
	c.err = c.outcome.Err()
	return nil
}

func (c *listTestContext) iCreateList(id, name string) error {
	return c.handle(shopping.CreateList{ID: id, Name: name})
}

func (c *listTestContext) iRenameList(id, name string) error {
	return c.handle(shopping.RenameList{ID: id, Name: name})
}

func (c *listTestContext) iReplayTheList() error {
	c.state, c.err = c.scenario().Replay()
	return nil
}

func (c *listTestContext) expectEvents(want ...shopping.Event) error {
	if c.err != nil {
		return fmt.Errorf("unexpected error: %w", c.err)
	}
	got := c.outcome.Events()
	if len(got) != len(want) || (len(want) > 0 && !reflect.DeepEqual(got, want)) {
		return fmt.Errorf("expected events %v, got %v", want, got)
	}
	return nil
}

func (c *listTestContext) theResultIsAListCreatedEvent(id, name string) error {
	return c.expectEvents(shopping.ListCreated{ID: id, Name: name})
}

func (c *listTestContext) theResultIsAListRenamedEvent(id, former, name string) error {
	return c.expectEvents(shopping.ListRenamed{ID: id, Former: former, New: name})
}

func (c *listTestContext) noEventsAreProduced() error {
	return c.expectEvents()
}

func (c *listTestContext) theListIsNamed(name string, version int) error {
	if c.err != nil {
		return fmt.Errorf("unexpected error: %w", c.err)
	}
	if c.state.Name != name || c.state.Version != uint64(version) {
		return fmt.Errorf("expected list named %q at version %d, got %+v", name, version, c.state)
	}
	return nil
}

func (c *listTestContext) theListWithIDIsNamed(id, name string, version int) error {
	if c.state.ID != id {
		return fmt.Errorf("expected list %q, got %q", id, c.state.ID)
	}
	return c.theListIsNamed(name, version)
}

func (c *listTestContext) theCommandIsRejectedOnField(field string) error {
	var verr *eventfold.ValidationError
	if !errors.As(c.err, &verr) {
		return fmt.Errorf("expected a validation error, got %v", c.err)
	}
	if verr.Field != field {
		return fmt.Errorf("expected rejection on %q, got %q", field, verr.Field)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &listTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^no prior events$`, tc.noPriorEvents)
	ctx.Step(`^list "([^"]*)" was created named "([^"]*)"$`, tc.listWasCreated)
	ctx.Step(`^list "([^"]*)" was renamed from "([^"]*)" to "([^"]*)"$`, tc.listWasRenamed)

	ctx.Step(`^I create list "([^"]*)" named "([^"]*)"$`, tc.iCreateList)
	ctx.Step(`^I rename list "([^"]*)" to "([^"]*)"$`, tc.iRenameList)
	ctx.Step(`^I replay the list$`, tc.iReplayTheList)

	ctx.Step(`^the result is a ListCreated event with id "([^"]*)" and name "([^"]*)"$`, tc.theResultIsAListCreatedEvent)
	ctx.Step(`^the result is a ListRenamed event for "([^"]*)" from "([^"]*)" to "([^"]*)"$`, tc.theResultIsAListRenamedEvent)
	ctx.Step(`^no events are produced$`, tc.noEventsAreProduced)
	ctx.Step(`^the list is named "([^"]*)" at version (\d+)$`, tc.theListIsNamed)
	ctx.Step(`^the list "([^"]*)" is named "([^"]*)" at version (\d+)$`, tc.theListWithIDIsNamed)
	ctx.Step(`^the command is rejected on field "([^"]*)"$`, tc.theCommandIsRejectedOnField)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
