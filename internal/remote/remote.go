// Package remote defines the narrow interfaces the processor uses to read and
// change a resource's advertisement state on an external provider.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownResource means the resource key has no entry in the provider
	// mapping. Retrying will not help until the mapping is fixed.
	ErrUnknownResource = errors.New("resource not in mapping")

	// ErrMissingIdentifier means the mapping entry exists but the provider
	// identifier needed for the call could not be found.
	ErrMissingIdentifier = errors.New("missing remote identifier")
)

// State is what the provider reports for one resource.
type State struct {
	Active bool
	// ModifiedAt is when the provider last changed the state, if known. The
	// provider rejects changes within its dwell time of this instant.
	ModifiedAt *time.Time
}

// Checker reads a resource's current state. It has no side effects.
type Checker interface {
	IsActive(ctx context.Context, resourceKey string) (bool, error)
}

// Mutator changes a resource's advertisement state.
type Mutator interface {
	SetActive(ctx context.Context, resourceKey string, active bool) error
}

// StatusError is a non-success response from the provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Message)
}
