package remote

import (
	"context"
	"log"

	"github.com/djlord-it/bgp-withdraw/internal/circuitbreaker"
)

// BreakerChecker short-circuits state checks for resources whose checks keep
// failing. An open circuit surfaces as circuitbreaker.ErrCircuitOpen, which the
// processor treats like any other checker error.
type BreakerChecker struct {
	next    Checker
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerChecker(next Checker, breaker *circuitbreaker.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{next: next, breaker: breaker}
}

func (c *BreakerChecker) IsActive(ctx context.Context, resourceKey string) (bool, error) {
	if err := c.breaker.Allow(resourceKey); err != nil {
		return false, err
	}

	active, err := c.next.IsActive(ctx, resourceKey)
	if err != nil {
		c.breaker.RecordFailure(resourceKey)
		if c.breaker.State(resourceKey) == "open" {
			log.Printf("remote: state check circuit opened resource=%s", resourceKey)
		}
		return false, err
	}
	c.breaker.RecordSuccess(resourceKey)
	return active, nil
}
