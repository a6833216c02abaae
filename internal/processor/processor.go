// Package processor runs the withdrawal loop: sweep stale intents, pick up
// due ones, withdraw each resource at most once per run, and write every
// outcome back through the store.
package processor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/bgp-withdraw/internal/analytics"
	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/metrics"
	"github.com/djlord-it/bgp-withdraw/internal/notify"
	"github.com/djlord-it/bgp-withdraw/internal/reaper"
	"github.com/djlord-it/bgp-withdraw/internal/remote"
	"github.com/djlord-it/bgp-withdraw/internal/runlock"
)

// Store defines the persistence operations a run needs. Resolve owns the
// retry policy; the processor only reports outcomes.
type Store interface {
	DueIntents(ctx context.Context, now time.Time) ([]domain.Intent, error)
	Resolve(ctx context.Context, intent domain.Intent, outcome domain.Outcome, now time.Time) (domain.Resolution, error)
	InsertAttempt(ctx context.Context, attempt domain.WithdrawalAttempt) error
}

// statsReader is implemented by stores that can report live counts. Used
// only to refresh gauges after a run.
type statsReader interface {
	Stats(ctx context.Context, now time.Time) (domain.Stats, error)
}

// Sweeper is the stale-entry reaper.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, maxAge time.Duration) (reaper.Result, error)
}

// AnalyticsSink records resolved outcomes. Failures are logged and ignored.
type AnalyticsSink interface {
	Write(ctx context.Context, event analytics.Event) error
}

// Config holds processor settings.
type Config struct {
	// StaleMaxAge is passed to the reaper. Default: 24h.
	StaleMaxAge time.Duration

	// RemoteTimeout bounds each state check and each withdraw call.
	// Default: 30s.
	RemoteTimeout time.Duration

	// Operator is shown in notifications.
	Operator string

	// MirrorDuplicateFailures makes a duplicate intent inherit a failure of
	// its resource's first intent in the run. When false (the default),
	// duplicates always resolve as success.
	MirrorDuplicateFailures bool
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		StaleMaxAge:   reaper.DefaultMaxAge,
		RemoteTimeout: 30 * time.Second,
	}
}

type Processor struct {
	config    Config
	store     Store
	sweeper   Sweeper
	checker   remote.Checker
	mutator   remote.Mutator
	notifier  notify.Sink
	analytics AnalyticsSink
	locker    runlock.Locker
	metrics   metrics.Sink
	clock     func() time.Time
}

func New(config Config, store Store, sweeper Sweeper, checker remote.Checker, mutator remote.Mutator) *Processor {
	if config.StaleMaxAge <= 0 {
		config.StaleMaxAge = reaper.DefaultMaxAge
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 30 * time.Second
	}
	return &Processor{
		config:  config,
		store:   store,
		sweeper: sweeper,
		checker: checker,
		mutator: mutator,
		locker:  runlock.Noop{},
		metrics: metrics.NewNoopSink(),
		clock:   time.Now,
	}
}

func (p *Processor) WithNotifier(sink notify.Sink) *Processor {
	p.notifier = sink
	return p
}

func (p *Processor) WithAnalytics(sink AnalyticsSink) *Processor {
	p.analytics = sink
	return p
}

func (p *Processor) WithLocker(locker runlock.Locker) *Processor {
	if locker != nil {
		p.locker = locker
	}
	return p
}

// WithMetrics attaches a metrics sink to the processor.
func (p *Processor) WithMetrics(sink metrics.Sink) *Processor {
	if sink != nil {
		p.metrics = sink
	}
	return p
}

// WithClock replaces the time source. For tests.
func (p *Processor) WithClock(clock func() time.Time) *Processor {
	p.clock = clock
	return p
}

// Run executes one processor run. It never returns an error: failures are
// reported in the Report, and Report.Failed drives the exit status.
//
// Cancelling ctx stops the run before the next intent; intents not reached
// stay exactly as they were and are picked up by the next run.
func (p *Processor) Run(ctx context.Context) (report Report) {
	report = Report{RunID: uuid.New(), StartedAt: p.clock().UTC()}

	release, err := p.locker.Acquire(ctx)
	if errors.Is(err, runlock.ErrHeld) {
		log.Printf("processor: run=%s skipped, run lock held elsewhere", report.RunID)
		p.metrics.RunSkipped(metrics.SkipLockHeld)
		report.Skipped = true
		report.FinishedAt = p.clock().UTC()
		return report
	}
	if err != nil {
		log.Printf("processor: run=%s skipped, run lock: %v", report.RunID, err)
		p.metrics.RunSkipped(metrics.SkipLockError)
		report.Err = err
		report.FinishedAt = p.clock().UTC()
		return report
	}
	defer release()

	p.metrics.RunStarted()
	defer func() {
		report.FinishedAt = p.clock().UTC()
		p.metrics.RunCompleted(report.FinishedAt.Sub(report.StartedAt), len(report.Items), report.Failed())
	}()

	swept, err := p.sweeper.Sweep(ctx, report.StartedAt, p.config.StaleMaxAge)
	if err != nil {
		// Sweep failure does not block withdrawals.
		log.Printf("processor: run=%s sweep failed: %v", report.RunID, err)
	}
	report.Swept = swept.Swept

	due, err := p.store.DueIntents(ctx, report.StartedAt)
	if err != nil {
		log.Printf("processor: run=%s failed to fetch due intents: %v", report.RunID, err)
		report.Err = err
		return report
	}
	if len(due) == 0 {
		log.Printf("processor: run=%s no intents due", report.RunID)
		p.refreshGauges(ctx)
		return report
	}

	log.Printf("processor: run=%s found %d due intents", report.RunID, len(due))

	// First outcome per resource in this run. Later intents for the same
	// resource never trigger another provider call.
	seen := make(map[string]domain.Outcome, len(due))

	// Write-back for an intent already acted on must land even if ctx is
	// cancelled mid-run.
	writeCtx := context.WithoutCancel(ctx)

	for _, intent := range due {
		if ctx.Err() != nil {
			log.Printf("processor: run=%s interrupted, processed %d/%d intents", report.RunID, len(report.Items), len(due))
			report.Interrupted = true
			break
		}

		started := p.clock().UTC()
		var item ItemResult

		if first, ok := seen[intent.ResourceKey]; ok {
			item = ItemResult{
				Intent:    intent,
				Action:    domain.AttemptActionDedup,
				Outcome:   p.duplicateOutcome(first),
				Duplicate: true,
			}
			p.metrics.DuplicateResolved()
			log.Printf("processor: run=%s intent=%d resource=%s already handled this run, resolving as duplicate",
				report.RunID, intent.ID, intent.ResourceKey)
		} else {
			item = p.attempt(ctx, report.RunID, intent)
			if item.interrupted {
				// The provider call was cut short, so nothing is known about
				// this intent. Leave it as it was for the next run.
				log.Printf("processor: run=%s intent=%d resource=%s interrupted during provider call, left unresolved",
					report.RunID, intent.ID, intent.ResourceKey)
				report.Interrupted = true
				break
			}
			seen[intent.ResourceKey] = item.Outcome
		}

		p.resolve(writeCtx, report.RunID, &item)
		p.recordAttempt(writeCtx, report.RunID, item, started)
		p.recordAnalytics(writeCtx, item)

		report.Items = append(report.Items, item)
	}

	log.Printf("processor: run=%s complete, succeeded=%d, failed=%d, swept=%d",
		report.RunID, report.SucceededCount(), report.FailedCount(), len(report.Swept))

	p.notify(writeCtx, report)
	p.refreshGauges(writeCtx)
	return report
}

// duplicateOutcome decides how an intent whose resource was already handled
// in this run resolves. By default it succeeds regardless of the first
// outcome: one mutation per resource per run, and no duplicate stays stuck.
func (p *Processor) duplicateOutcome(first domain.Outcome) domain.Outcome {
	if p.config.MirrorDuplicateFailures && !first.Success {
		return domain.Outcome{Method: domain.MethodScheduled, Error: first.Error}
	}
	return domain.Succeeded(domain.MethodScheduled)
}

// attempt checks the remote state and withdraws if needed. A failed state
// check does not block the withdraw; it only costs the optimization.
func (p *Processor) attempt(ctx context.Context, runID uuid.UUID, intent domain.Intent) ItemResult {
	item := ItemResult{Intent: intent, Action: domain.AttemptActionWithdraw}

	checkCtx, cancel := context.WithTimeout(ctx, p.config.RemoteTimeout)
	start := time.Now()
	active, err := p.checker.IsActive(checkCtx, intent.ResourceKey)
	cancel()
	p.metrics.RemoteCallCompleted(metrics.CallCheck, remote.Classify(err), time.Since(start))

	if err != nil && ctx.Err() != nil {
		item.interrupted = true
		return item
	}
	if err != nil {
		p.metrics.CheckerDegraded()
		log.Printf("processor: WARNING run=%s resource=%s state check failed (class=%s), withdrawing anyway: %v",
			runID, intent.ResourceKey, remote.Classify(err), err)
	} else if !active {
		log.Printf("processor: run=%s intent=%d resource=%s already withdrawn", runID, intent.ID, intent.ResourceKey)
		item.Action = domain.AttemptActionAlreadySatisfied
		item.Outcome = domain.Succeeded(domain.MethodAlreadySatisfied)
		return item
	}

	mutCtx, cancel := context.WithTimeout(ctx, p.config.RemoteTimeout)
	start = time.Now()
	err = p.mutator.SetActive(mutCtx, intent.ResourceKey, false)
	cancel()
	class := remote.Classify(err)
	p.metrics.RemoteCallCompleted(metrics.CallWithdraw, class, time.Since(start))

	if err != nil && ctx.Err() != nil {
		item.interrupted = true
		return item
	}
	if err != nil {
		log.Printf("processor: run=%s intent=%d resource=%s withdraw failed (class=%s): %v",
			runID, intent.ID, intent.ResourceKey, class, err)
		item.Outcome = domain.Failed(domain.MethodScheduled, err)
		return item
	}

	log.Printf("processor: run=%s intent=%d resource=%s withdrawn", runID, intent.ID, intent.ResourceKey)
	item.Outcome = domain.Succeeded(domain.MethodScheduled)
	return item
}

func (p *Processor) resolve(ctx context.Context, runID uuid.UUID, item *ItemResult) {
	res, err := p.store.Resolve(ctx, item.Intent, item.Outcome, p.clock().UTC())
	if errors.Is(err, domain.ErrAlreadyResolved) {
		// Another run resolved it between our read and our write.
		log.Printf("processor: run=%s intent=%d already resolved elsewhere: %v", runID, item.Intent.ID, err)
		p.metrics.IntentResolved(metrics.OutcomeLostRace)
		item.LostRace = true
		return
	}
	if err != nil {
		log.Printf("processor: run=%s intent=%d failed to record outcome: %v", runID, item.Intent.ID, err)
		p.metrics.IntentResolved(metrics.OutcomeStoreError)
		item.Err = err
		return
	}

	item.Resolution = &res
	p.metrics.IntentResolved(string(res.Kind))

	switch res.Kind {
	case domain.ResolutionRetryScheduled:
		log.Printf("processor: run=%s intent=%d retry %d/%d scheduled at %s",
			runID, item.Intent.ID, res.Intent.RetryCount, res.Intent.MaxRetries, res.NextRetryAt.Format(time.RFC3339))
	case domain.ResolutionAbandoned:
		log.Printf("processor: run=%s intent=%d abandoned: %s", runID, item.Intent.ID, res.History.Notes)
	}
}

func (p *Processor) recordAttempt(ctx context.Context, runID uuid.UUID, item ItemResult, started time.Time) {
	attempt := domain.WithdrawalAttempt{
		ID:          uuid.New(),
		RunID:       runID,
		IntentID:    item.Intent.ID,
		ResourceKey: item.Intent.ResourceKey,
		Action:      item.Action,
		Outcome:     domain.AttemptOutcomeSuccess,
		StartedAt:   started,
		FinishedAt:  p.clock().UTC(),
	}
	if !item.Outcome.Success {
		attempt.Outcome = domain.AttemptOutcomeFailed
		attempt.Error = item.Outcome.Error
	}
	if err := p.store.InsertAttempt(ctx, attempt); err != nil {
		log.Printf("processor: run=%s intent=%d failed to insert attempt: %v", runID, item.Intent.ID, err)
	}
}

func (p *Processor) recordAnalytics(ctx context.Context, item ItemResult) {
	if p.analytics == nil || item.Resolution == nil {
		return
	}
	event := analytics.Event{
		ResourceKey: item.Intent.ResourceKey,
		Outcome:     string(item.Resolution.Kind),
		At:          p.clock(),
	}
	if err := p.analytics.Write(ctx, event); err != nil {
		log.Printf("processor: analytics write failed resource=%s: %v", item.Intent.ResourceKey, err)
	}
}

func (p *Processor) notify(ctx context.Context, report Report) {
	if p.notifier == nil {
		return
	}
	items := report.NotifyItems()
	if len(items) == 0 {
		return
	}
	msg := notify.FormatRun(notify.Run{
		RunID:    report.RunID.String(),
		Operator: p.config.Operator,
		At:       p.clock(),
		Items:    items,
	})
	if err := p.notifier.Notify(ctx, msg); err != nil {
		log.Printf("processor: run=%s notification failed: %v", report.RunID, err)
	}
}

func (p *Processor) refreshGauges(ctx context.Context) {
	sr, ok := p.store.(statsReader)
	if !ok {
		return
	}
	st, err := sr.Stats(ctx, p.clock())
	if err != nil {
		log.Printf("processor: failed to read stats for gauges: %v", err)
		return
	}
	p.metrics.LiveIntentsUpdate(st.Pending, st.Failed)
}
