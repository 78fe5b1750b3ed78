package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario context the rate limit steps need.
type TestContext interface {
	GET(path string, headers map[string]string) error
	RecordPath(suffix string) string
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
}

// RegisterSteps registers request budget steps. Scenarios using them expect
// the server to run with a small RATE_LIMIT_READ.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I look up the record (\d+) times$`, steps.lookUpNTimes)
	ctx.Step(`^the remaining read budget should have decreased$`, steps.budgetDecreased)
	ctx.Step(`^at least one lookup should have been rate limited$`, steps.someLookupLimited)
	ctx.Step(`^the response should say when to retry$`, steps.retryAfterPresent)
}

type ratelimitSteps struct {
	tc TestContext

	statuses  []int
	remaining []int
}

func (s *ratelimitSteps) lookUpNTimes(ctx context.Context, n int) error {
	s.statuses = s.statuses[:0]
	s.remaining = s.remaining[:0]
	for range n {
		if err := s.tc.GET(s.tc.RecordPath(""), nil); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
		if v := s.tc.GetLastResponseHeader("X-RateLimit-Remaining"); v != "" {
			r, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("X-RateLimit-Remaining %q: %w", v, err)
			}
			s.remaining = append(s.remaining, r)
		}
	}
	return nil
}

func (s *ratelimitSteps) budgetDecreased(ctx context.Context) error {
	if len(s.remaining) < 2 {
		return fmt.Errorf("expected rate limit headers on every lookup, saw %d", len(s.remaining))
	}
	if s.remaining[len(s.remaining)-1] >= s.remaining[0] {
		return fmt.Errorf("remaining budget did not decrease: %v", s.remaining)
	}
	return nil
}

func (s *ratelimitSteps) someLookupLimited(ctx context.Context) error {
	for _, status := range s.statuses {
		if status == 429 {
			return nil
		}
	}
	return fmt.Errorf("no lookup was rate limited: %v", s.statuses)
}

func (s *ratelimitSteps) retryAfterPresent(ctx context.Context) error {
	if s.tc.GetLastResponseStatus() != 429 {
		return fmt.Errorf("last lookup returned %d, want 429", s.tc.GetLastResponseStatus())
	}
	if s.tc.GetLastResponseHeader("Retry-After") == "" {
		return fmt.Errorf("Retry-After header missing")
	}
	return nil
}
