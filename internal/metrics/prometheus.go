package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Run metrics
	runsTotal        prometheus.Counter
	runsFailedTotal  prometheus.Counter
	runsSkippedTotal *prometheus.CounterVec
	runDuration      prometheus.Histogram
	intentsDueTotal  prometheus.Counter

	// Processor metrics
	remoteCallsTotal     *prometheus.CounterVec
	remoteCallDuration   *prometheus.HistogramVec
	intentsResolvedTotal *prometheus.CounterVec
	checkerDegradedTotal prometheus.Counter
	duplicatesTotal      prometheus.Counter

	// Reaper metrics
	staleSweptTotal prometheus.Counter

	// Store gauges
	liveIntents *prometheus.GaugeVec

	// Notifier metrics
	notifyQueueSize     prometheus.Gauge
	notifyQueueCapacity prometheus.Gauge
	notifyDroppedTotal  prometheus.Counter
	notifyDeliveries    *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initRunMetrics(reg)
	s.initProcessorMetrics(reg)
	s.initStoreMetrics(reg)
	s.initNotifierMetrics(reg)
	return s
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_runs_total",
		Help: "Total number of processor runs started.",
	})
	s.runsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_runs_failed_total",
		Help: "Total number of processor runs in which at least one intent failed.",
	})
	s.runsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bgpwithdraw_runs_skipped_total",
		Help: "Total number of processor runs skipped before processing.",
	}, []string{"reason"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bgpwithdraw_run_duration_seconds",
		Help:    "Duration of each processor run in seconds.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	s.intentsDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_intents_due_total",
		Help: "Total number of due intents picked up by processor runs.",
	})

	s.register(reg, s.runsTotal, "bgpwithdraw_runs_total")
	s.register(reg, s.runsFailedTotal, "bgpwithdraw_runs_failed_total")
	s.register(reg, s.runsSkippedTotal, "bgpwithdraw_runs_skipped_total")
	s.register(reg, s.runDuration, "bgpwithdraw_run_duration_seconds")
	s.register(reg, s.intentsDueTotal, "bgpwithdraw_intents_due_total")
}

func (s *PrometheusSink) initProcessorMetrics(reg prometheus.Registerer) {
	s.remoteCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bgpwithdraw_remote_calls_total",
		Help: "Total number of provider calls by call type and error class.",
	}, []string{"call", "class"})

	s.remoteCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bgpwithdraw_remote_call_duration_seconds",
		Help:    "Provider call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"call"})

	s.intentsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bgpwithdraw_intents_resolved_total",
		Help: "Total number of intent resolutions by outcome.",
	}, []string{"outcome"})

	s.checkerDegradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_checker_degraded_total",
		Help: "Total number of state checks that failed and fell back to withdrawing anyway.",
	})

	s.duplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_duplicates_resolved_total",
		Help: "Total number of intents resolved without a provider call because their resource was handled earlier in the run.",
	})

	s.staleSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_stale_swept_total",
		Help: "Total number of intents moved to history as stale by the reaper.",
	})

	s.register(reg, s.remoteCallsTotal, "bgpwithdraw_remote_calls_total")
	s.register(reg, s.remoteCallDuration, "bgpwithdraw_remote_call_duration_seconds")
	s.register(reg, s.intentsResolvedTotal, "bgpwithdraw_intents_resolved_total")
	s.register(reg, s.checkerDegradedTotal, "bgpwithdraw_checker_degraded_total")
	s.register(reg, s.duplicatesTotal, "bgpwithdraw_duplicates_resolved_total")
	s.register(reg, s.staleSweptTotal, "bgpwithdraw_stale_swept_total")
}

func (s *PrometheusSink) initStoreMetrics(reg prometheus.Registerer) {
	s.liveIntents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bgpwithdraw_live_intents",
		Help: "Live intents by status, sampled after each run.",
	}, []string{"status"})

	s.register(reg, s.liveIntents, "bgpwithdraw_live_intents")
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.notifyQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bgpwithdraw_notify_queue_size",
		Help: "Current number of notifications waiting for delivery.",
	})
	s.notifyQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bgpwithdraw_notify_queue_capacity",
		Help: "Capacity of the notification queue.",
	})
	s.notifyDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bgpwithdraw_notify_dropped_total",
		Help: "Total number of notifications dropped because the queue was full.",
	})
	s.notifyDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bgpwithdraw_notify_deliveries_total",
		Help: "Total number of notification deliveries by sink and result.",
	}, []string{"sink", "success"})

	s.register(reg, s.notifyQueueSize, "bgpwithdraw_notify_queue_size")
	s.register(reg, s.notifyQueueCapacity, "bgpwithdraw_notify_queue_capacity")
	s.register(reg, s.notifyDroppedTotal, "bgpwithdraw_notify_dropped_total")
	s.register(reg, s.notifyDeliveries, "bgpwithdraw_notify_deliveries_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Run metrics implementation

func (s *PrometheusSink) RunStarted() {
	s.runsTotal.Inc()
}

func (s *PrometheusSink) RunCompleted(duration time.Duration, intents int, failed bool) {
	s.runDuration.Observe(duration.Seconds())
	s.intentsDueTotal.Add(float64(intents))
	if failed {
		s.runsFailedTotal.Inc()
	}
}

func (s *PrometheusSink) RunSkipped(reason string) {
	s.runsSkippedTotal.WithLabelValues(reason).Inc()
}

// Processor metrics implementation

func (s *PrometheusSink) RemoteCallCompleted(call string, class string, duration time.Duration) {
	s.remoteCallsTotal.WithLabelValues(call, class).Inc()
	s.remoteCallDuration.WithLabelValues(call).Observe(duration.Seconds())
}

func (s *PrometheusSink) IntentResolved(outcome string) {
	s.intentsResolvedTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) CheckerDegraded() {
	s.checkerDegradedTotal.Inc()
}

func (s *PrometheusSink) DuplicateResolved() {
	s.duplicatesTotal.Inc()
}

func (s *PrometheusSink) StaleSwept(count int) {
	s.staleSweptTotal.Add(float64(count))
}

func (s *PrometheusSink) LiveIntentsUpdate(pending, failed int) {
	s.liveIntents.WithLabelValues("pending").Set(float64(pending))
	s.liveIntents.WithLabelValues("failed").Set(float64(failed))
}

// Notifier metrics implementation

func (s *PrometheusSink) NotifyQueueSizeUpdate(size int) {
	s.notifyQueueSize.Set(float64(size))
}

func (s *PrometheusSink) NotifyQueueCapacitySet(capacity int) {
	s.notifyQueueCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) NotifyDropped() {
	s.notifyDroppedTotal.Inc()
}

func (s *PrometheusSink) NotifyDelivered(sink string, err error) {
	s.notifyDeliveries.WithLabelValues(sink, strconv.FormatBool(err == nil)).Inc()
}
