package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted()                                                    {}
func (n *NoopSink) RunCompleted(duration time.Duration, intents int, failed bool)  {}
func (n *NoopSink) RunSkipped(reason string)                                       {}
func (n *NoopSink) RemoteCallCompleted(call string, class string, d time.Duration) {}
func (n *NoopSink) IntentResolved(outcome string)                                  {}
func (n *NoopSink) CheckerDegraded()                                               {}
func (n *NoopSink) DuplicateResolved()                                             {}
func (n *NoopSink) StaleSwept(count int)                                           {}
func (n *NoopSink) LiveIntentsUpdate(pending, failed int)                          {}
func (n *NoopSink) NotifyQueueSizeUpdate(size int)                                 {}
func (n *NoopSink) NotifyQueueCapacitySet(capacity int)                            {}
func (n *NoopSink) NotifyDropped()                                                 {}
func (n *NoopSink) NotifyDelivered(sink string, err error)                         {}
