package models

import "time"

// Scope names a family of rate limit buckets.
type Scope string

const (
	// ScopeEmail limits code mails per address.
	ScopeEmail Scope = "email"
	// ScopeIP limits code mails per client IP.
	ScopeIP Scope = "ip"
	// ScopeVerify limits verification attempts per address.
	ScopeVerify Scope = "verify"
)

// Policy is a sliding window: at most Limit events per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest event in the window expires; a denied
	// caller may retry then.
	ResetAt time.Time
}

// RetryAfter is the wait until ResetAt, never negative.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
