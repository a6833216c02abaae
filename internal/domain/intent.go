package domain

import (
	"errors"
	"time"
)

// DefaultMaxRetries is the retry budget applied when an intent is enqueued
// without an explicit one.
const DefaultMaxRetries = 5

var (
	// ErrIntentNotFound is returned when no live intent matches the given id
	// (or the given id in the expected status).
	ErrIntentNotFound = errors.New("intent not found")

	// ErrAlreadyResolved is returned when an intent changed between being read
	// and being resolved; another resolver won.
	ErrAlreadyResolved = errors.New("intent already resolved")
)

type IntentStatus string

const (
	IntentStatusPending IntentStatus = "pending"
	IntentStatusFailed  IntentStatus = "failed"
)

// IntentContext carries pass-through metadata from the attack that caused the
// announcement. None of it drives scheduling.
type IntentContext struct {
	PolicyID       string
	PolicyName     string
	TargetIP       string
	Classification string
}

// Intent records that a resource must be withdrawn no earlier than EligibleAt.
// At most one intent exists per (ResourceKey, CorrelationID); an empty
// CorrelationID is stored as NULL and counts as "" for uniqueness.
type Intent struct {
	ID int64

	ResourceKey   string
	CorrelationID string
	Context       IntentContext

	AnnouncedAt *time.Time
	EligibleAt  time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time

	Status      IntentStatus
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	LastError   string
}

// Due reports whether the intent would be selected by a processor run at now.
func (i Intent) Due(now time.Time) bool {
	switch i.Status {
	case IntentStatusPending:
		return !i.EligibleAt.After(now)
	case IntentStatusFailed:
		if i.RetryCount >= i.MaxRetries {
			return false
		}
		return i.NextRetryAt == nil || !i.NextRetryAt.After(now)
	default:
		return false
	}
}

// NewIntent is the ingestion request for a withdrawal.
type NewIntent struct {
	ResourceKey   string
	CorrelationID string
	Context       IntentContext

	AnnouncedAt *time.Time
	EligibleAt  time.Time
	EndedAt     *time.Time

	// MaxRetries <= 0 means DefaultMaxRetries.
	MaxRetries int
}
