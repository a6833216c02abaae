package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Run metrics
	RunStarted()
	RunCompleted(duration time.Duration, intents int, failed bool)
	RunSkipped(reason string)

	// Processor metrics
	RemoteCallCompleted(call string, class string, duration time.Duration)
	IntentResolved(outcome string)
	CheckerDegraded()
	DuplicateResolved()

	// Reaper metrics
	StaleSwept(count int)

	// Store gauges
	LiveIntentsUpdate(pending, failed int)

	// Notifier metrics
	NotifyQueueSizeUpdate(size int)
	NotifyQueueCapacitySet(capacity int)
	NotifyDropped()
	NotifyDelivered(sink string, err error)
}

// Outcome constants for IntentResolved.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeRetryScheduled = "retry_scheduled"
	OutcomeAbandoned      = "abandoned"
	OutcomeLostRace       = "lost_race"
	OutcomeStoreError     = "store_error"
)

// Call constants for RemoteCallCompleted.
const (
	CallCheck    = "check"
	CallWithdraw = "withdraw"
)

// Reasons for RunSkipped.
const (
	SkipLockHeld  = "lock_held"
	SkipLockError = "lock_error"
)
