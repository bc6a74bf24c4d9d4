package resilience

import (
	"time"
)

// Budgets holds the per-call-site retry budgets the optimizer uses.
type Budgets struct {
	Provider RetryOptions
	Session  RetryOptions
	Score    RetryOptions
}

// FromRetryConfig converts config values into a RetryOptions. A
// non-positive backoff falls back to one second; the retry count is passed
// through unchanged so that invalid values surface from Validate.
func FromRetryConfig(retries, backoffMs int, label string) RetryOptions {
	backoff := time.Second
	if backoffMs > 0 {
		backoff = time.Duration(backoffMs) * time.Millisecond
	}
	return RetryOptions{
		MaxRetries: retries,
		Backoff:    backoff,
		Label:      label,
	}
}

// DefaultBudgets returns small bounded budgets: browser automation calls
// are slow and expensive, and session creation fails most often.
func DefaultBudgets() Budgets {
	return Budgets{
		Provider: FromRetryConfig(2, 1000, "provider.new"),
		Session:  FromRetryConfig(3, 1000, "session.create"),
		Score:    FromRetryConfig(2, 1000, "score.text"),
	}
}
