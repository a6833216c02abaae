package remote

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/djlord-it/bgp-withdraw/internal/circuitbreaker"
)

// Error classes used as metric labels and in attempt notes.
const (
	ClassOK              = "ok"
	ClassTimeout         = "timeout"
	ClassRateLimited     = "rate_limited"
	ClassServerError     = "server_error"
	ClassClientError     = "client_error"
	ClassConfig          = "config"
	ClassConnectionError = "connection_error"
	ClassCircuitOpen     = "circuit_open"
	ClassCanceled        = "canceled"
	ClassOther           = "other"
)

// Classify maps a remote call error to an error class. The class is
// informational; every failure goes through the same retry path.
func Classify(err error) string {
	if err == nil {
		return ClassOK
	}

	if errors.Is(err, ErrUnknownResource) || errors.Is(err, ErrMissingIdentifier) {
		return ClassConfig
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return ClassCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return ClassRateLimited
		case statusErr.StatusCode >= 500:
			return ClassServerError
		case statusErr.StatusCode >= 400:
			return ClassClientError
		default:
			return ClassOther
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled"):
		return ClassCanceled
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
		return ClassConnectionError
	default:
		return ClassOther
	}
}
