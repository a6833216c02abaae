package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/metrics"
)

// ErrQueueFull is returned by Enqueue when the buffer stays full past the
// enqueue timeout.
var ErrQueueFull = errors.New("notification queue full")

// DefaultEnqueueTimeout bounds how long Enqueue waits for buffer space.
const DefaultEnqueueTimeout = 100 * time.Millisecond

// DefaultDrainTimeout is the maximum time to spend delivering buffered
// messages during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Queue decouples processor runs from slow notification delivery. Run reads
// from the buffer and delivers to the sink; Enqueue never blocks for long.
type Queue struct {
	ch             chan Message
	sink           Sink
	metrics        metrics.Sink
	enqueueTimeout time.Duration
	drainTimeout   time.Duration
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

func WithEnqueueTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.enqueueTimeout = d }
}

func WithDrainTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.drainTimeout = d }
}

func WithMetrics(sink metrics.Sink) QueueOption {
	return func(q *Queue) {
		if sink != nil {
			q.metrics = sink
		}
	}
}

func NewQueue(sink Sink, buffer int, opts ...QueueOption) *Queue {
	q := &Queue{
		ch:             make(chan Message, buffer),
		sink:           sink,
		metrics:        metrics.NewNoopSink(),
		enqueueTimeout: DefaultEnqueueTimeout,
		drainTimeout:   DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.metrics.NotifyQueueCapacitySet(buffer)
	return q
}

func (q *Queue) Name() string { return "queue" }

// Notify enqueues msg, so a Queue can stand in wherever a Sink is expected.
func (q *Queue) Notify(ctx context.Context, msg Message) error {
	return q.Enqueue(ctx, msg)
}

// Enqueue buffers msg for delivery.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	select {
	case q.ch <- msg:
		q.metrics.NotifyQueueSizeUpdate(len(q.ch))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		q.metrics.NotifyDropped()
		return ErrQueueFull
	}
}

// Run delivers buffered messages until ctx is cancelled, then drains what is
// left with a fresh deadline.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case msg := <-q.ch:
			q.deliver(ctx, msg)
		}
	}
}

// drain uses a background context since the main context is already cancelled.
func (q *Queue) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), q.drainTimeout)
	defer cancel()

	count := 0
	for {
		if drainCtx.Err() != nil {
			log.Printf("notify: drain timeout, delivered %d messages, dropped %d", count, len(q.ch))
			return
		}
		select {
		case <-drainCtx.Done():
			continue
		case msg := <-q.ch:
			q.deliver(drainCtx, msg)
			count++
		default:
			if count > 0 {
				log.Printf("notify: drain complete, delivered %d messages", count)
			}
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	q.metrics.NotifyQueueSizeUpdate(len(q.ch))
	err := q.sink.Notify(ctx, msg)
	q.metrics.NotifyDelivered(q.sink.Name(), err)
	if err != nil {
		log.Printf("notify: delivery failed run=%s sink=%s: %v", msg.RunID, q.sink.Name(), err)
	}
}
