package common

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	LoginAs(username string) error
	Logout()
	GET(path string) error
	POST(path string, body any) error
	Status() int
	GetResponseField(field string) (any, error)
	Save(name, value string)
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I am logged in as "([^"]*)"$`, steps.loginAs)
	ctx.Step(`^I am not logged in$`, steps.logout)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I POST "([^"]*)" with an empty JSON body$`, steps.postEmpty)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^I remember the response field "([^"]*)" as "([^"]*)"$`, steps.remember)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) loginAs(_ context.Context, username string) error {
	return s.tc.LoginAs(username)
}

func (s *commonSteps) logout(context.Context) error {
	s.tc.Logout()
	return nil
}

func (s *commonSteps) get(_ context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) postEmpty(_ context.Context, path string) error {
	return s.tc.POST(path, map[string]any{})
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.Status(); got != want {
		return fmt.Errorf("expected status %d, got %d", want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(_ context.Context, field, want string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s=%q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) remember(_ context.Context, field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(name, fmt.Sprint(v))
	return nil
}
