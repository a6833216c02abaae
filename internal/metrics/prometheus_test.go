package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func getHistogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return 0
}

func getGaugeVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_DoubleRegistration(t *testing.T) {
	// Second registration on the same registry logs and still returns a usable sink.
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	sink := NewPrometheusSink(reg)
	sink.RunStarted()
	sink.IntentResolved(OutcomeSucceeded)
}

func TestPrometheusSink_RunLifecycle(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunStarted()
	sink.RunCompleted(200*time.Millisecond, 3, false)
	sink.RunStarted()
	sink.RunCompleted(time.Second, 2, true)

	if v := getCounterValue(t, reg, "bgpwithdraw_runs_total"); v != 2 {
		t.Errorf("runs_total = %v, want 2", v)
	}
	if v := getCounterValue(t, reg, "bgpwithdraw_runs_failed_total"); v != 1 {
		t.Errorf("runs_failed_total = %v, want 1", v)
	}
	if v := getCounterValue(t, reg, "bgpwithdraw_intents_due_total"); v != 5 {
		t.Errorf("intents_due_total = %v, want 5", v)
	}
	if n := getHistogramCount(t, reg, "bgpwithdraw_run_duration_seconds", map[string]string{}); n != 2 {
		t.Errorf("run_duration sample count = %d, want 2", n)
	}
}

func TestPrometheusSink_RunSkipped(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunSkipped(SkipLockHeld)
	sink.RunSkipped(SkipLockHeld)
	sink.RunSkipped(SkipLockError)

	if v := getCounterVecValue(t, reg, "bgpwithdraw_runs_skipped_total", map[string]string{"reason": SkipLockHeld}); v != 2 {
		t.Errorf("runs_skipped_total{lock_held} = %v, want 2", v)
	}
	if v := getCounterVecValue(t, reg, "bgpwithdraw_runs_skipped_total", map[string]string{"reason": SkipLockError}); v != 1 {
		t.Errorf("runs_skipped_total{lock_error} = %v, want 1", v)
	}
}

func TestPrometheusSink_RemoteCalls(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RemoteCallCompleted(CallCheck, "ok", 100*time.Millisecond)
	sink.RemoteCallCompleted(CallWithdraw, "server_error", 300*time.Millisecond)
	sink.RemoteCallCompleted(CallWithdraw, "server_error", 300*time.Millisecond)

	if v := getCounterVecValue(t, reg, "bgpwithdraw_remote_calls_total", map[string]string{"call": CallWithdraw, "class": "server_error"}); v != 2 {
		t.Errorf("remote_calls_total{withdraw,server_error} = %v, want 2", v)
	}
	if n := getHistogramCount(t, reg, "bgpwithdraw_remote_call_duration_seconds", map[string]string{"call": CallCheck}); n != 1 {
		t.Errorf("remote_call_duration{check} count = %d, want 1", n)
	}
}

func TestPrometheusSink_IntentResolved(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.IntentResolved(OutcomeSucceeded)
	sink.IntentResolved(OutcomeSucceeded)
	sink.IntentResolved(OutcomeAbandoned)
	sink.DuplicateResolved()
	sink.CheckerDegraded()

	if v := getCounterVecValue(t, reg, "bgpwithdraw_intents_resolved_total", map[string]string{"outcome": OutcomeSucceeded}); v != 2 {
		t.Errorf("intents_resolved_total{succeeded} = %v, want 2", v)
	}
	if v := getCounterVecValue(t, reg, "bgpwithdraw_intents_resolved_total", map[string]string{"outcome": OutcomeAbandoned}); v != 1 {
		t.Errorf("intents_resolved_total{abandoned} = %v, want 1", v)
	}
	if v := getCounterValue(t, reg, "bgpwithdraw_duplicates_resolved_total"); v != 1 {
		t.Errorf("duplicates_resolved_total = %v, want 1", v)
	}
	if v := getCounterValue(t, reg, "bgpwithdraw_checker_degraded_total"); v != 1 {
		t.Errorf("checker_degraded_total = %v, want 1", v)
	}
}

func TestPrometheusSink_StaleAndLive(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.StaleSwept(3)
	sink.StaleSwept(0)
	sink.LiveIntentsUpdate(7, 2)

	if v := getCounterValue(t, reg, "bgpwithdraw_stale_swept_total"); v != 3 {
		t.Errorf("stale_swept_total = %v, want 3", v)
	}
	if v := getGaugeVecValue(t, reg, "bgpwithdraw_live_intents", map[string]string{"status": "pending"}); v != 7 {
		t.Errorf("live_intents{pending} = %v, want 7", v)
	}
	if v := getGaugeVecValue(t, reg, "bgpwithdraw_live_intents", map[string]string{"status": "failed"}); v != 2 {
		t.Errorf("live_intents{failed} = %v, want 2", v)
	}
}

func TestPrometheusSink_Notifier(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.NotifyQueueCapacitySet(100)
	sink.NotifyQueueSizeUpdate(4)
	sink.NotifyDropped()
	sink.NotifyDelivered("telegram", nil)
	sink.NotifyDelivered("telegram", errors.New("429"))

	if v := getGaugeValue(t, reg, "bgpwithdraw_notify_queue_capacity"); v != 100 {
		t.Errorf("notify_queue_capacity = %v, want 100", v)
	}
	if v := getGaugeValue(t, reg, "bgpwithdraw_notify_queue_size"); v != 4 {
		t.Errorf("notify_queue_size = %v, want 4", v)
	}
	if v := getCounterValue(t, reg, "bgpwithdraw_notify_dropped_total"); v != 1 {
		t.Errorf("notify_dropped_total = %v, want 1", v)
	}
	if v := getCounterVecValue(t, reg, "bgpwithdraw_notify_deliveries_total", map[string]string{"sink": "telegram", "success": "false"}); v != 1 {
		t.Errorf("notify_deliveries_total{telegram,false} = %v, want 1", v)
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
