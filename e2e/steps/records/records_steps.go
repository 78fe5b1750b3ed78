package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestContext is the subset of the scenario context the record steps need.
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	RecordID() string
	SetRecordID(id string)
	RecordPath(suffix string) string
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers declaration, lifecycle action and record assertion steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &recordSteps{tc: tc}

	ctx.Step(`^I declare a (birth|death) record for "([^"]*)"$`, steps.declare)
	ctx.Step(`^a declared (birth|death) record for "([^"]*)"$`, steps.declared)
	ctx.Step(`^the record has gone through "([^"]*)"$`, steps.goneThrough)
	ctx.Step(`^I ([a-z-]+) the record$`, steps.perform)
	ctx.Step(`^I reject the record because "([^"]*)"$`, steps.rejectBecause)
	ctx.Step(`^I request a correction of "([^"]*)" to "([^"]*)" because "([^"]*)"$`, steps.requestCorrection)
	ctx.Step(`^I reject the correction because "([^"]*)"$`, steps.rejectCorrection)
	ctx.Step(`^I look up a record that does not exist$`, steps.lookUpMissing)

	ctx.Step(`^the record status should be "([^"]*)"$`, steps.statusShouldBe)
	ctx.Step(`^the record should (not )?have a pending correction$`, steps.pendingCorrection)
	ctx.Step(`^the audit trail should contain (\d+) events?$`, steps.auditTrailLength)
}

type recordSteps struct {
	tc TestContext
}

func (s *recordSteps) declare(ctx context.Context, eventType, givenName string) error {
	role := "child"
	if eventType == "death" {
		role = "deceased"
	}
	err := s.tc.POST("/records", map[string]any{
		"eventType":    eventType,
		"declaration":  map[string]any{"registrationOffice": "Lusaka Central"},
		"participants": []map[string]any{{"role": role, "givenName": givenName}},
	})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 201 {
		v, err := s.tc.GetResponseField("id")
		if err != nil {
			return err
		}
		s.tc.SetRecordID(fmt.Sprint(v))
	}
	return nil
}

func (s *recordSteps) declared(ctx context.Context, eventType, givenName string) error {
	if err := s.declare(ctx, eventType, givenName); err != nil {
		return err
	}
	return s.expectOK(201)
}

// goneThrough runs a comma-separated list of plain actions, each of which must succeed.
func (s *recordSteps) goneThrough(ctx context.Context, actions string) error {
	for _, a := range strings.Split(actions, ",") {
		if err := s.perform(ctx, strings.TrimSpace(a)); err != nil {
			return err
		}
		if err := s.expectOK(200); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func (s *recordSteps) perform(ctx context.Context, action string) error {
	return s.tc.POST(s.tc.RecordPath("/"+action), map[string]any{})
}

func (s *recordSteps) rejectBecause(ctx context.Context, reason string) error {
	return s.tc.POST(s.tc.RecordPath("/reject"), map[string]any{"reason": reason})
}

func (s *recordSteps) requestCorrection(ctx context.Context, field, value, reason string) error {
	return s.tc.POST(s.tc.RecordPath("/request-correction"), map[string]any{
		"reason":           reason,
		"requestedChanges": map[string]any{field: value},
	})
}

func (s *recordSteps) rejectCorrection(ctx context.Context, reason string) error {
	return s.tc.POST(s.tc.RecordPath("/reject-correction"), map[string]any{"reason": reason})
}

func (s *recordSteps) lookUpMissing(ctx context.Context) error {
	s.tc.SetRecordID(uuid.NewString())
	return s.tc.GET(s.tc.RecordPath(""), nil)
}

func (s *recordSteps) statusShouldBe(ctx context.Context, expected string) error {
	if err := s.tc.GET(s.tc.RecordPath(""), nil); err != nil {
		return err
	}
	if err := s.expectOK(200); err != nil {
		return err
	}
	v, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if fmt.Sprint(v) != expected {
		return fmt.Errorf("expected record status %s, got %v", expected, v)
	}
	return nil
}

func (s *recordSteps) pendingCorrection(ctx context.Context, not string) error {
	if err := s.tc.GET(s.tc.RecordPath(""), nil); err != nil {
		return err
	}
	v, err := s.tc.GetResponseField("pendingCorrection")
	if err != nil {
		return err
	}
	want := not == ""
	if v != want {
		return fmt.Errorf("expected pendingCorrection=%v, got %v", want, v)
	}
	return nil
}

func (s *recordSteps) auditTrailLength(ctx context.Context, n int) error {
	if err := s.tc.GET(s.tc.RecordPath("/audit"), nil); err != nil {
		return err
	}
	if err := s.expectOK(200); err != nil {
		return err
	}
	v, err := s.tc.GetResponseField("events")
	if err != nil {
		return err
	}
	events, ok := v.([]any)
	if !ok {
		return fmt.Errorf("events is %T, want a list", v)
	}
	if len(events) != n {
		return fmt.Errorf("expected %d audit events, got %d", n, len(events))
	}
	return nil
}

func (s *recordSteps) expectOK(status int) error {
	if got := s.tc.GetLastResponseStatus(); got != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, got, s.tc.GetLastResponseBody())
	}
	return nil
}
