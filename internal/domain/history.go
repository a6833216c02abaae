package domain

import "time"

type HistoryStatus string

const (
	HistoryStatusSuccess   HistoryStatus = "success"
	HistoryStatusAbandoned HistoryStatus = "abandoned"
	HistoryStatusStale     HistoryStatus = "stale"
)

// Method tags how an intent left the live table.
type Method string

const (
	MethodScheduled        Method = "scheduled"
	MethodAlreadySatisfied Method = "already-satisfied"
	MethodManual           Method = "manual"
	MethodCleanup          Method = "cleanup"
)

// HistoryRecord is the immutable outcome of one intent.
type HistoryRecord struct {
	ID int64

	ResourceKey   string
	CorrelationID string
	Context       IntentContext

	AnnouncedAt *time.Time
	EndedAt     *time.Time
	CompletedAt time.Time

	AttackDuration     *time.Duration
	ProtectionDuration *time.Duration

	Method Method
	Status HistoryStatus
	Notes  string
}

// NewHistoryRecord builds the history row for intent completed at completedAt.
// Attack duration needs both AnnouncedAt and EndedAt; protection duration
// needs AnnouncedAt.
func NewHistoryRecord(intent Intent, completedAt time.Time, method Method, status HistoryStatus, notes string) HistoryRecord {
	rec := HistoryRecord{
		ResourceKey:   intent.ResourceKey,
		CorrelationID: intent.CorrelationID,
		Context:       intent.Context,
		AnnouncedAt:   intent.AnnouncedAt,
		EndedAt:       intent.EndedAt,
		CompletedAt:   completedAt,
		Method:        method,
		Status:        status,
		Notes:         notes,
	}
	if intent.AnnouncedAt != nil {
		if intent.EndedAt != nil {
			d := intent.EndedAt.Sub(*intent.AnnouncedAt)
			rec.AttackDuration = &d
		}
		p := completedAt.Sub(*intent.AnnouncedAt)
		rec.ProtectionDuration = &p
	}
	return rec
}
