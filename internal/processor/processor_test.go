package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/bgp-withdraw/internal/analytics"
	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/metrics"
	"github.com/djlord-it/bgp-withdraw/internal/notify"
	"github.com/djlord-it/bgp-withdraw/internal/reaper"
	"github.com/djlord-it/bgp-withdraw/internal/remote"
	"github.com/djlord-it/bgp-withdraw/internal/runlock"
	"github.com/djlord-it/bgp-withdraw/internal/store/sqlstore"
	"github.com/djlord-it/bgp-withdraw/internal/testutil"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRemote is both checker and mutator. Resources default to active.
type fakeRemote struct {
	mu       sync.Mutex
	inactive map[string]bool
	checkErr error
	setErr   map[string]error
	setCalls []string
	onSet    func(resource string)

	// hangCheck and hangSet make the call block until its context is done.
	// entered receives the resource as each hanging call starts.
	hangCheck bool
	hangSet   bool
	entered   chan string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{inactive: map[string]bool{}, setErr: map[string]error{}}
}

func (f *fakeRemote) IsActive(ctx context.Context, resourceKey string) (bool, error) {
	if f.hangCheck {
		return false, f.hang(ctx, resourceKey)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return !f.inactive[resourceKey], nil
}

func (f *fakeRemote) SetActive(ctx context.Context, resourceKey string, active bool) error {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, resourceKey)
	if f.hangSet {
		f.mu.Unlock()
		return f.hang(ctx, resourceKey)
	}
	err := f.setErr[resourceKey]
	hook := f.onSet
	if err == nil {
		f.inactive[resourceKey] = !active
	}
	f.mu.Unlock()
	if hook != nil {
		hook(resourceKey)
	}
	return err
}

func (f *fakeRemote) hang(ctx context.Context, resourceKey string) error {
	if f.entered != nil {
		f.entered <- resourceKey
	}
	<-ctx.Done()
	return fmt.Errorf("call %s: %w", resourceKey, ctx.Err())
}

// remoteCallSink records remote call classes.
type remoteCallSink struct {
	*metrics.NoopSink
	mu      sync.Mutex
	classes map[string][]string
}

func newRemoteCallSink() *remoteCallSink {
	return &remoteCallSink{NoopSink: metrics.NewNoopSink(), classes: map[string][]string{}}
}

func (s *remoteCallSink) RemoteCallCompleted(call string, class string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[call] = append(s.classes[call], class)
}

func (s *remoteCallSink) calls(call string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.classes[call]...)
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.setCalls...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

type recordingAnalytics struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (a *recordingAnalytics) Write(ctx context.Context, e analytics.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context) (func(), error) { return nil, runlock.ErrHeld }

type harness struct {
	store    *sqlstore.Store
	db       *sql.DB
	remote   *fakeRemote
	notifier *recordingNotifier
	clock    *testutil.FakeClock
	proc     *Processor
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db := testutil.OpenSQLite(t)

	store := sqlstore.New(db, sqlstore.SQLite, 5*time.Second)
	require.NoError(t, store.Migrate(testutil.TestContext(t)))

	h := &harness{
		store:    store,
		db:       db,
		remote:   newFakeRemote(),
		notifier: &recordingNotifier{},
		clock:    testutil.NewFakeClock(start),
	}
	h.proc = New(cfg, store, reaper.New(store), h.remote, h.remote).
		WithNotifier(h.notifier).
		WithClock(h.clock.Now)
	return h
}

func (h *harness) enqueue(t *testing.T, resource, correlation string, eligibleAt time.Time) int64 {
	t.Helper()
	id, created, err := h.store.Enqueue(testutil.TestContext(t), domain.NewIntent{
		ResourceKey:   resource,
		CorrelationID: correlation,
		EligibleAt:    eligibleAt,
	}, h.clock.Now())
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func (h *harness) history(t *testing.T) []domain.HistoryRecord {
	t.Helper()
	hist, err := h.store.History(testutil.TestContext(t), 100)
	require.NoError(t, err)
	return hist
}

func TestRun_AlreadySatisfiedSkipsMutation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start.Add(-time.Second))
	h.remote.inactive["R1"] = true

	report := h.proc.Run(testutil.TestContext(t))

	assert.False(t, report.Failed())
	assert.Equal(t, 0, report.ExitCode())
	assert.Empty(t, h.remote.calls(), "no mutating call for an already withdrawn resource")

	hist := h.history(t)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.HistoryStatusSuccess, hist[0].Status)
	assert.Equal(t, domain.MethodAlreadySatisfied, hist[0].Method)
}

func TestRun_WithdrawsDueIntent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "atk-1", start)

	report := h.proc.Run(testutil.TestContext(t))

	require.Len(t, report.Items, 1)
	assert.Equal(t, domain.AttemptActionWithdraw, report.Items[0].Action)
	assert.Equal(t, []string{"R1"}, h.remote.calls())

	hist := h.history(t)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.MethodScheduled, hist[0].Method)
	assert.Equal(t, "atk-1", hist[0].CorrelationID)
}

func TestRun_NotYetEligibleIsUntouched(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start.Add(time.Minute))

	report := h.proc.Run(testutil.TestContext(t))

	assert.Empty(t, report.Items)
	assert.Empty(t, h.remote.calls())
	assert.Empty(t, h.notifier.msgs, "nothing to report")
}

func TestRun_DuplicatesOneMutationBothSucceed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "atk-1", start.Add(-2*time.Minute))
	h.enqueue(t, "R1", "atk-2", start.Add(-time.Minute))

	report := h.proc.Run(testutil.TestContext(t))

	assert.Equal(t, []string{"R1"}, h.remote.calls(), "exactly one mutating call per resource per run")
	require.Len(t, report.Items, 2)
	assert.False(t, report.Items[0].Duplicate)
	assert.True(t, report.Items[1].Duplicate)
	assert.Equal(t, domain.AttemptActionDedup, report.Items[1].Action)

	hist := h.history(t)
	require.Len(t, hist, 2)
	for _, rec := range hist {
		assert.Equal(t, domain.HistoryStatusSuccess, rec.Status)
	}

	require.Len(t, h.notifier.msgs, 1)
	assert.Len(t, h.notifier.msgs[0].Items, 1, "duplicates are not repeated in the notification")
}

func TestRun_DuplicateOfFailedResourceSucceedsByDefault(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "atk-1", start.Add(-2*time.Minute))
	h.enqueue(t, "R1", "atk-2", start.Add(-time.Minute))
	h.remote.setErr["R1"] = errors.New("provider returned HTTP 502")

	report := h.proc.Run(testutil.TestContext(t))

	assert.Len(t, h.remote.calls(), 1)
	assert.True(t, report.Failed())
	assert.True(t, report.Items[0].Failed())
	assert.False(t, report.Items[1].Failed())

	hist := h.history(t)
	require.Len(t, hist, 1)
	assert.Equal(t, "atk-2", hist[0].CorrelationID)

	failed, err := h.store.ListFailed(testutil.TestContext(t))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "atk-1", failed[0].CorrelationID)
}

func TestRun_DuplicateMirrorsFailureWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MirrorDuplicateFailures = true
	h := newHarness(t, cfg)
	h.enqueue(t, "R1", "atk-1", start.Add(-2*time.Minute))
	h.enqueue(t, "R1", "atk-2", start.Add(-time.Minute))
	h.remote.setErr["R1"] = errors.New("boom")

	report := h.proc.Run(testutil.TestContext(t))

	assert.Len(t, h.remote.calls(), 1)
	assert.Equal(t, 2, report.FailedCount())

	failed, err := h.store.ListFailed(testutil.TestContext(t))
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, in := range failed {
		assert.Equal(t, 1, in.RetryCount, "each duplicate keeps its own retry bookkeeping")
		assert.Equal(t, "boom", in.LastError)
	}
}

func TestRun_FailureSchedulesRetryAndExitCode(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := h.enqueue(t, "R2", "", start)
	h.remote.setErr["R2"] = errors.New("timeout")

	report := h.proc.Run(testutil.TestContext(t))
	assert.Equal(t, 1, report.ExitCode())

	intent, err := h.store.GetIntent(testutil.TestContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusFailed, intent.Status)
	require.NotNil(t, intent.NextRetryAt)
	assert.Equal(t, 5*time.Minute, intent.NextRetryAt.Sub(start))

	// Not due again until the backoff elapses.
	h.clock.Advance(4 * time.Minute)
	report = h.proc.Run(testutil.TestContext(t))
	assert.Empty(t, report.Items)
	assert.Len(t, h.remote.calls(), 1)
}

func TestRun_AbandonsAfterMaxRetries(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R2", "", start)
	h.remote.setErr["R2"] = errors.New("provider returned HTTP 503")

	for i := 0; i < domain.DefaultMaxRetries; i++ {
		report := h.proc.Run(testutil.TestContext(t))
		require.Len(t, report.Items, 1, "run %d", i+1)
		require.True(t, report.Failed())
		// Jump past any backoff.
		h.clock.Advance(2 * time.Hour)
	}

	assert.Len(t, h.remote.calls(), domain.DefaultMaxRetries)

	hist := h.history(t)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.HistoryStatusAbandoned, hist[0].Status)
	assert.Contains(t, hist[0].Notes, "provider returned HTTP 503")

	report := h.proc.Run(testutil.TestContext(t))
	assert.Empty(t, report.Items, "abandoned intent is never retried")
}

func TestRun_CheckerErrorDegradesToMutation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start)
	h.remote.checkErr = errors.New("connection refused")

	report := h.proc.Run(testutil.TestContext(t))

	assert.False(t, report.Failed())
	assert.Equal(t, []string{"R1"}, h.remote.calls())
}

func TestRun_SweepsStaleFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	// Created 25h ago, never eligible since.
	h.clock.Set(start.Add(-25 * time.Hour))
	h.enqueue(t, "OLD", "", start.Add(time.Hour))
	h.clock.Set(start)

	report := h.proc.Run(testutil.TestContext(t))

	require.Len(t, report.Swept, 1)
	assert.Equal(t, domain.HistoryStatusStale, report.Swept[0].Status)
	assert.Empty(t, report.Items)
}

func TestRun_LockHeldSkips(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start)
	h.proc.WithLocker(heldLocker{})

	report := h.proc.Run(testutil.TestContext(t))

	assert.True(t, report.Skipped)
	assert.False(t, report.Failed())
	assert.Empty(t, h.remote.calls())
}

func TestRun_NotificationFailureDoesNotRevert(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start)
	h.notifier.err = errors.New("telegram down")

	report := h.proc.Run(testutil.TestContext(t))

	assert.False(t, report.Failed())
	assert.Len(t, h.history(t), 1)
}

func TestRun_SummaryNotificationForMultipleResources(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start)
	h.enqueue(t, "R2", "", start)
	h.remote.setErr["R2"] = errors.New("boom")

	h.proc.Run(testutil.TestContext(t))

	require.Len(t, h.notifier.msgs, 1)
	msg := h.notifier.msgs[0]
	assert.True(t, msg.Failed)
	assert.Len(t, msg.Items, 2)
	assert.Contains(t, msg.Text, "BULK")
}

func TestRun_AttemptLogAndStats(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "a", start)
	h.enqueue(t, "R1", "b", start)
	h.enqueue(t, "R3", "", start)
	h.remote.inactive["R3"] = true

	h.proc.Run(testutil.TestContext(t))

	ctx := testutil.TestContext(t)
	rows, err := h.db.QueryContext(ctx, `SELECT action, outcome FROM withdrawal_attempts ORDER BY intent_id`)
	require.NoError(t, err)
	defer rows.Close()
	var actions []string
	for rows.Next() {
		var action, outcome string
		require.NoError(t, rows.Scan(&action, &outcome))
		assert.Equal(t, "success", outcome)
		actions = append(actions, action)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"withdraw", "dedup", "already-satisfied"}, actions)

	st, err := h.store.Stats(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, st.EventsToday)
	assert.Equal(t, 3, st.Succeeded)
}

func TestRun_AnalyticsRecordsResolutions(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	rec := &recordingAnalytics{}
	h.proc.WithAnalytics(rec)
	h.enqueue(t, "R1", "", start)
	h.enqueue(t, "R2", "", start)
	h.remote.setErr["R2"] = errors.New("boom")

	h.proc.Run(testutil.TestContext(t))

	require.Len(t, rec.events, 2)
	outcomes := map[string]string{}
	for _, e := range rec.events {
		outcomes[e.ResourceKey] = e.Outcome
	}
	assert.Equal(t, string(domain.ResolutionSucceeded), outcomes["R1"])
	assert.Equal(t, string(domain.ResolutionRetryScheduled), outcomes["R2"])
}

func TestRun_CancelledStopsBeforeNextIntent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.enqueue(t, "R1", "", start.Add(-time.Minute))
	h.enqueue(t, "R2", "", start)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.remote.onSet = func(string) { cancel() }

	report := h.proc.Run(ctx)

	assert.Equal(t, []string{"R1"}, h.remote.calls())
	assert.Len(t, report.Items, 1)

	pending, err := h.store.ListPending(testutil.TestContext(t))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "R2", pending[0].ResourceKey)
}

func (h *harness) attemptErrors(t *testing.T, intentID int64) []string {
	t.Helper()
	rows, err := h.db.QueryContext(testutil.TestContext(t),
		`SELECT error FROM withdrawal_attempts WHERE intent_id = ? ORDER BY started_at`, intentID)
	require.NoError(t, err)
	defer rows.Close()
	var errs []string
	for rows.Next() {
		var e sql.NullString
		require.NoError(t, rows.Scan(&e))
		errs = append(errs, e.String)
	}
	require.NoError(t, rows.Err())
	return errs
}

func TestRun_CancelDuringWithdrawLeavesIntentUntouched(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id, _, err := h.store.Enqueue(testutil.TestContext(t), domain.NewIntent{
		ResourceKey: "R1",
		EligibleAt:  start,
		MaxRetries:  1,
	}, start)
	require.NoError(t, err)

	h.remote.hangSet = true
	h.remote.entered = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-h.remote.entered
		cancel()
	}()

	report := h.proc.Run(ctx)

	assert.True(t, report.Interrupted)
	assert.Empty(t, report.Items)
	assert.False(t, report.Failed(), "an interrupted call is not a failure")
	assert.Empty(t, h.history(t))
	assert.Empty(t, h.attemptErrors(t, id))

	intent, err := h.store.GetIntent(testutil.TestContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusPending, intent.Status)
	assert.Equal(t, 0, intent.RetryCount)
	assert.Empty(t, intent.LastError)
	assert.Nil(t, intent.NextRetryAt)

	// The next run picks it up as before.
	h.remote.hangSet = false
	report = h.proc.Run(testutil.TestContext(t))
	require.Len(t, report.Items, 1)
	assert.False(t, report.Failed())
}

func TestRun_CancelDuringStateCheckLeavesIntentUntouched(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := h.enqueue(t, "R1", "", start)

	h.remote.hangCheck = true
	h.remote.entered = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-h.remote.entered
		cancel()
	}()

	report := h.proc.Run(ctx)

	assert.True(t, report.Interrupted)
	assert.Empty(t, h.remote.calls(), "no withdraw after the run was cancelled")

	intent, err := h.store.GetIntent(testutil.TestContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusPending, intent.Status)
	assert.Equal(t, 0, intent.RetryCount)
}

func TestRun_WithdrawTimeoutIsRetriableFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	sink := newRemoteCallSink()
	h.proc.WithMetrics(sink)
	id := h.enqueue(t, "R1", "", start)
	h.remote.hangSet = true

	report := h.proc.Run(testutil.TestContext(t))

	assert.False(t, report.Interrupted)
	require.Len(t, report.Items, 1)
	assert.True(t, report.Failed())

	intent, err := h.store.GetIntent(testutil.TestContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusFailed, intent.Status)
	assert.Equal(t, 1, intent.RetryCount)
	require.NotNil(t, intent.NextRetryAt)
	assert.Equal(t, 5*time.Minute, intent.NextRetryAt.Sub(start))

	errs := h.attemptErrors(t, id)
	require.Len(t, errs, 1)
	assert.Equal(t, remote.ClassTimeout, remote.Classify(errors.New(errs[0])))
	assert.Equal(t, []string{remote.ClassTimeout}, sink.calls(metrics.CallWithdraw))
}

func TestRun_StateCheckTimeoutStillWithdraws(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	sink := newRemoteCallSink()
	h.proc.WithMetrics(sink)
	h.enqueue(t, "R1", "", start)
	h.remote.hangCheck = true

	report := h.proc.Run(testutil.TestContext(t))

	require.Len(t, report.Items, 1)
	assert.False(t, report.Failed())
	assert.Equal(t, []string{"R1"}, h.remote.calls())
	assert.Equal(t, []string{remote.ClassTimeout}, sink.calls(metrics.CallCheck))
	assert.Equal(t, []string{remote.ClassOK}, sink.calls(metrics.CallWithdraw))
}
