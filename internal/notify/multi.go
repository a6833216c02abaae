package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Multi fans a message out to every sink. It returns the joined errors of
// the sinks that failed; one failing sink does not stop the others.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes the message to the process log. Used when no delivery
// channel is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(ctx context.Context, msg Message) error {
	log.Printf("notify: run=%s failed=%t items=%d\n%s", msg.RunID, msg.Failed, len(msg.Items), msg.Text)
	return nil
}
