// Package retry maps a failed intent's attempt count to its next eligible
// time or to abandonment.
package retry

import (
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
)

// BaseBackoff is the wait after the first failure. Each further failure
// doubles it: 5m, 10m, 20m, 40m, 80m.
const BaseBackoff = 5 * time.Minute

// maxShift keeps BaseBackoff<<n well inside time.Duration.
const maxShift = 20

// Decision is the result of applying the policy to one failure.
type Decision struct {
	RetryCount  int
	GiveUp      bool
	Backoff     time.Duration
	NextRetryAt time.Time
}

// Backoff returns the wait for an intent that has failed retryCount times
// before the current failure.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxShift {
		retryCount = maxShift
	}
	return BaseBackoff << uint(retryCount)
}

// Next applies one failure to an intent whose pre-failure count is retryCount.
// The backoff uses the pre-increment count so the first failure waits exactly
// BaseBackoff.
func Next(retryCount, maxRetries int, now time.Time) Decision {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	next := retryCount + 1
	if next >= maxRetries {
		return Decision{RetryCount: next, GiveUp: true}
	}
	b := Backoff(retryCount)
	return Decision{
		RetryCount:  next,
		Backoff:     b,
		NextRetryAt: now.Add(b),
	}
}
