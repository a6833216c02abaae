package api

import (
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/processor"
)

// EnqueueRequest schedules a withdrawal. Set at most one of EligibleAt and
// DelaySeconds; with neither the intent is eligible immediately.
type EnqueueRequest struct {
	ResourceKey   string `json:"resource_key"`
	CorrelationID string `json:"correlation_id,omitempty"`
	EligibleAt    string `json:"eligible_at,omitempty"`   // RFC3339
	DelaySeconds  *int   `json:"delay_seconds,omitempty"` // from now
	AnnouncedAt   string `json:"announced_at,omitempty"`
	EndedAt       string `json:"ended_at,omitempty"`
	MaxRetries    int    `json:"max_retries,omitempty"` // default 5

	PolicyID       string `json:"policy_id,omitempty"`
	PolicyName     string `json:"policy_name,omitempty"`
	TargetIP       string `json:"target_ip,omitempty"`
	Classification string `json:"classification,omitempty"`
}

type EnqueueResponse struct {
	ID      int64 `json:"id,omitempty"`
	Created bool  `json:"created"`
}

type ResolveRequest struct {
	Note string `json:"note,omitempty"`
}

type SweepRequest struct {
	MaxAgeSeconds int `json:"max_age_seconds,omitempty"`
}

type IntentResponse struct {
	ID             int64  `json:"id"`
	ResourceKey    string `json:"resource_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	PolicyID       string `json:"policy_id,omitempty"`
	PolicyName     string `json:"policy_name,omitempty"`
	TargetIP       string `json:"target_ip,omitempty"`
	Classification string `json:"classification,omitempty"`
	AnnouncedAt    string `json:"announced_at,omitempty"`
	EligibleAt     string `json:"eligible_at"`
	EndedAt        string `json:"ended_at,omitempty"`
	CreatedAt      string `json:"created_at"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	MaxRetries     int    `json:"max_retries"`
	NextRetryAt    string `json:"next_retry_at,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

type HistoryResponse struct {
	ID                        int64  `json:"id"`
	ResourceKey               string `json:"resource_key"`
	CorrelationID             string `json:"correlation_id,omitempty"`
	PolicyName                string `json:"policy_name,omitempty"`
	TargetIP                  string `json:"target_ip,omitempty"`
	AnnouncedAt               string `json:"announced_at,omitempty"`
	CompletedAt               string `json:"completed_at"`
	AttackDurationSeconds     *int64 `json:"attack_duration_seconds,omitempty"`
	ProtectionDurationSeconds *int64 `json:"protection_duration_seconds,omitempty"`
	Method                    string `json:"method"`
	Status                    string `json:"status"`
	Notes                     string `json:"notes,omitempty"`
}

type ListIntentsResponse struct {
	Intents []IntentResponse `json:"intents"`
}

type ListHistoryResponse struct {
	History []HistoryResponse `json:"history"`
}

type StatsResponse struct {
	Pending     int `json:"pending"`
	Failed      int `json:"failed"`
	History     int `json:"history"`
	Succeeded   int `json:"succeeded"`
	Abandoned   int `json:"abandoned"`
	Stale       int `json:"stale"`
	EventsToday int `json:"events_today"`
}

type SweepResponse struct {
	Swept   []HistoryResponse `json:"swept"`
	Skipped int               `json:"skipped"`
}

type RunItemResponse struct {
	IntentID    int64  `json:"intent_id"`
	ResourceKey string `json:"resource_key"`
	Action      string `json:"action"`
	Success     bool   `json:"success"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	NextRetryAt string `json:"next_retry_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

type RunResponse struct {
	RunID       string            `json:"run_id"`
	StartedAt   string            `json:"started_at"`
	FinishedAt  string            `json:"finished_at"`
	Skipped     bool              `json:"skipped"`
	Interrupted bool              `json:"interrupted"`
	Failed      bool              `json:"failed"`
	Swept       int               `json:"swept"`
	Items       []RunItemResponse `json:"items"`
	Error       string            `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func secondsPtr(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(d.Seconds())
	return &s
}

func intentResponse(in domain.Intent) IntentResponse {
	return IntentResponse{
		ID:             in.ID,
		ResourceKey:    in.ResourceKey,
		CorrelationID:  in.CorrelationID,
		PolicyID:       in.Context.PolicyID,
		PolicyName:     in.Context.PolicyName,
		TargetIP:       in.Context.TargetIP,
		Classification: in.Context.Classification,
		AnnouncedAt:    formatTimePtr(in.AnnouncedAt),
		EligibleAt:     formatTime(in.EligibleAt),
		EndedAt:        formatTimePtr(in.EndedAt),
		CreatedAt:      formatTime(in.CreatedAt),
		Status:         string(in.Status),
		RetryCount:     in.RetryCount,
		MaxRetries:     in.MaxRetries,
		NextRetryAt:    formatTimePtr(in.NextRetryAt),
		LastError:      in.LastError,
	}
}

func historyResponse(rec domain.HistoryRecord) HistoryResponse {
	return HistoryResponse{
		ID:                        rec.ID,
		ResourceKey:               rec.ResourceKey,
		CorrelationID:             rec.CorrelationID,
		PolicyName:                rec.Context.PolicyName,
		TargetIP:                  rec.Context.TargetIP,
		AnnouncedAt:               formatTimePtr(rec.AnnouncedAt),
		CompletedAt:               formatTime(rec.CompletedAt),
		AttackDurationSeconds:     secondsPtr(rec.AttackDuration),
		ProtectionDurationSeconds: secondsPtr(rec.ProtectionDuration),
		Method:                    string(rec.Method),
		Status:                    string(rec.Status),
		Notes:                     rec.Notes,
	}
}

func historyResponses(recs []domain.HistoryRecord) []HistoryResponse {
	out := make([]HistoryResponse, len(recs))
	for i, rec := range recs {
		out[i] = historyResponse(rec)
	}
	return out
}

func runResponse(r processor.Report) RunResponse {
	resp := RunResponse{
		RunID:       r.RunID.String(),
		StartedAt:   formatTime(r.StartedAt),
		FinishedAt:  formatTime(r.FinishedAt),
		Skipped:     r.Skipped,
		Interrupted: r.Interrupted,
		Failed:      r.Failed(),
		Swept:       len(r.Swept),
		Items:       make([]RunItemResponse, len(r.Items)),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	for i, it := range r.Items {
		item := RunItemResponse{
			IntentID:    it.Intent.ID,
			ResourceKey: it.Intent.ResourceKey,
			Action:      string(it.Action),
			Success:     !it.Failed(),
			Duplicate:   it.Duplicate,
			Error:       it.Outcome.Error,
		}
		if it.Err != nil && item.Error == "" {
			item.Error = it.Err.Error()
		}
		if it.Resolution != nil {
			item.Resolution = string(it.Resolution.Kind)
			item.NextRetryAt = formatTimePtr(it.Resolution.NextRetryAt)
		}
		if it.LostRace {
			item.Resolution = "lost_race"
		}
		resp.Items[i] = item
	}
	return resp
}
