package processor

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/notify"
)

// ItemResult is what happened to one due intent in a run.
type ItemResult struct {
	Intent    domain.Intent
	Action    domain.AttemptAction
	Outcome   domain.Outcome
	Duplicate bool

	// Resolution is nil when the store write did not happen.
	Resolution *domain.Resolution
	// LostRace is set when another resolver got to the intent first.
	LostRace bool
	// Err is a store failure while recording the outcome.
	Err error

	// interrupted is set when the run was cancelled during a provider call.
	// Such an item is never resolved or reported.
	interrupted bool
}

// Failed reports whether this item counts as a failure for the run.
func (r ItemResult) Failed() bool {
	return !r.Outcome.Success || r.Err != nil
}

// Report summarizes one processor run.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Skipped    bool
	Swept      []domain.HistoryRecord
	Items      []ItemResult
	Err        error

	// Interrupted is set when cancellation stopped the run before every due
	// intent was handled. Intents not handled are left untouched.
	Interrupted bool
}

// Failed reports whether any intent failed or the run could not start.
// A run skipped because another holds the lock is not a failure.
func (r Report) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, it := range r.Items {
		if it.Failed() {
			return true
		}
	}
	return false
}

// ExitCode is 1 when the run failed and 0 otherwise.
func (r Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

func (r Report) SucceededCount() int {
	n := 0
	for _, it := range r.Items {
		if !it.Failed() {
			n++
		}
	}
	return n
}

func (r Report) FailedCount() int {
	return len(r.Items) - r.SucceededCount()
}

// NotifyItems converts the report for notification. Duplicates are left out:
// their resource already appears once.
func (r Report) NotifyItems() []notify.Item {
	var items []notify.Item
	for _, it := range r.Items {
		if it.Duplicate {
			continue
		}
		ni := notify.Item{
			IntentID:      it.Intent.ID,
			ResourceKey:   it.Intent.ResourceKey,
			CorrelationID: it.Intent.CorrelationID,
			Success:       !it.Failed(),
			Method:        string(it.Outcome.Method),
			Error:         it.Outcome.Error,
		}
		if it.Err != nil && ni.Error == "" {
			ni.Error = it.Err.Error()
		}
		if res := it.Resolution; res != nil {
			ni.Abandoned = res.Kind == domain.ResolutionAbandoned
			ni.NextRetryAt = res.NextRetryAt
		}
		items = append(items, ni)
	}
	return items
}
