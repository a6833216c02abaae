package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttemptAction string

const (
	AttemptActionWithdraw         AttemptAction = "withdraw"
	AttemptActionAlreadySatisfied AttemptAction = "already-satisfied"
	AttemptActionDedup            AttemptAction = "dedup"
)

type AttemptOutcome string

const (
	AttemptOutcomeSuccess AttemptOutcome = "success"
	AttemptOutcomeFailed  AttemptOutcome = "failed"
)

// WithdrawalAttempt logs one processor decision for one intent.
type WithdrawalAttempt struct {
	ID       uuid.UUID
	RunID    uuid.UUID
	IntentID int64

	ResourceKey string
	Action      AttemptAction
	Outcome     AttemptOutcome
	Error       string

	StartedAt  time.Time
	FinishedAt time.Time
}
