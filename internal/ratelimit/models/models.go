// Package models holds the rate limiting types shared by stores and middleware.
package models

import (
	"math"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassRead covers record and audit trail lookups.
	ClassRead EndpointClass = "read"
	// ClassWrite covers declarations and lifecycle actions.
	ClassWrite EndpointClass = "write"
)

// IsValid reports whether the class is one of the supported values.
func (c EndpointClass) IsValid() bool {
	return c == ClassRead || c == ClassWrite
}

// Limit is the budget for one class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Enabled is false for a zero budget.
func (l Limit) Enabled() bool { return l.Requests > 0 && l.Window > 0 }

// RateLimitResult describes the outcome of one check against a sliding window.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until a denied caller may retry.
func (r RateLimitResult) RetryAfter(now time.Time) int {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
}
