// Package notify formats run outcomes and delivers them to operators.
//
// Delivery is best-effort: a failed notification is logged and dropped, and
// never changes the state of an intent.
package notify

import (
	"context"
	"time"
)

// Sink delivers one message.
type Sink interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Message is what every sink receives. Text is Markdown for chat sinks;
// structured sinks (webhook) send the whole struct.
type Message struct {
	Text     string    `json:"text"`
	RunID    string    `json:"run_id,omitempty"`
	Operator string    `json:"operator,omitempty"`
	Failed   bool      `json:"failed"`
	Items    []Item    `json:"items,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Item is one resource outcome in a run.
type Item struct {
	IntentID      int64      `json:"intent_id"`
	ResourceKey   string     `json:"resource_key"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Success       bool       `json:"success"`
	Method        string     `json:"method,omitempty"`
	Error         string     `json:"error,omitempty"`
	Abandoned     bool       `json:"abandoned,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

// Run is the input to FormatRun.
type Run struct {
	RunID    string
	Operator string
	At       time.Time
	Items    []Item
}
