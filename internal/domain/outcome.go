package domain

import "time"

// Outcome is what a resolver observed for one intent.
type Outcome struct {
	Success bool
	Method  Method
	Error   string
}

// Succeeded is a successful outcome tagged with method.
func Succeeded(method Method) Outcome {
	return Outcome{Success: true, Method: method}
}

// Failed is a failed outcome; err must be non-nil.
func Failed(method Method, err error) Outcome {
	return Outcome{Method: method, Error: err.Error()}
}

type ResolutionKind string

const (
	ResolutionSucceeded      ResolutionKind = "succeeded"
	ResolutionRetryScheduled ResolutionKind = "retry_scheduled"
	ResolutionAbandoned      ResolutionKind = "abandoned"
)

// Resolution is what the store did with an outcome.
type Resolution struct {
	Kind ResolutionKind

	// Intent is the live row after a retry was scheduled.
	Intent Intent
	// History is set when the intent left the live table.
	History *HistoryRecord

	NextRetryAt *time.Time
}

// Stats is a read-only aggregate over the store.
type Stats struct {
	Pending     int
	Failed      int
	History     int
	Succeeded   int
	Abandoned   int
	Stale       int
	EventsToday int
}
