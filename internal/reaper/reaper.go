// Package reaper force-closes intents that have stayed live longer than a
// safety ceiling.
//
// An intent that the processor can never resolve (a resource missing from
// the provider mapping, a retry budget larger than the ceiling) would
// otherwise sit in the live table forever. The reaper moves each one to
// history with status stale. It runs at the start of every processor run and
// on demand from the operator surface.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/metrics"
)

// DefaultMaxAge is the age after which a live intent is considered stale.
const DefaultMaxAge = 24 * time.Hour

// Store defines the persistence operations the reaper needs.
type Store interface {
	StaleIntents(ctx context.Context, olderThan time.Time) ([]domain.Intent, error)
	Retire(ctx context.Context, intent domain.Intent, method domain.Method, status domain.HistoryStatus, notes string, now time.Time) (domain.HistoryRecord, error)
}

// Result summarizes one sweep.
type Result struct {
	Swept   []domain.HistoryRecord
	Skipped int
}

// Reaper sweeps stale intents into history.
type Reaper struct {
	store   Store
	metrics metrics.Sink
}

// New creates a new Reaper.
func New(store Store) *Reaper {
	return &Reaper{store: store, metrics: metrics.NewNoopSink()}
}

// WithMetrics sets the metrics sink for the reaper.
func (r *Reaper) WithMetrics(sink metrics.Sink) *Reaper {
	if sink != nil {
		r.metrics = sink
	}
	return r
}

// Sweep moves every live intent created before now-maxAge to history with
// status stale. Intents created at or after the cutoff are left alone.
// maxAge <= 0 means DefaultMaxAge.
//
// An intent resolved by someone else between the select and the retire is
// counted as skipped, not as an error.
func (r *Reaper) Sweep(ctx context.Context, now time.Time, maxAge time.Duration) (Result, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now = now.UTC()
	cutoff := now.Add(-maxAge)

	stale, err := r.store.StaleIntents(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stale intents: %w", err)
	}
	if len(stale) == 0 {
		return Result{}, nil
	}

	log.Printf("reaper: found %d stale intents (max_age=%s)", len(stale), maxAge)

	var res Result
	for _, intent := range stale {
		if ctx.Err() != nil {
			log.Printf("reaper: sweep interrupted, processed %d/%d", len(res.Swept)+res.Skipped, len(stale))
			r.metrics.StaleSwept(len(res.Swept))
			return res, ctx.Err()
		}

		notes := staleNotes(intent, now)
		rec, err := r.store.Retire(ctx, intent, domain.MethodCleanup, domain.HistoryStatusStale, notes, now)
		if errors.Is(err, domain.ErrAlreadyResolved) || errors.Is(err, domain.ErrIntentNotFound) {
			res.Skipped++
			continue
		}
		if err != nil {
			log.Printf("reaper: failed to retire intent=%d resource=%s: %v", intent.ID, intent.ResourceKey, err)
			res.Skipped++
			continue
		}

		log.Printf("reaper: retired intent=%d resource=%s status=%s age=%s",
			intent.ID, intent.ResourceKey, intent.Status, now.Sub(intent.CreatedAt).Round(time.Second))
		res.Swept = append(res.Swept, rec)
	}

	r.metrics.StaleSwept(len(res.Swept))
	log.Printf("reaper: sweep complete, retired=%d, skipped=%d", len(res.Swept), res.Skipped)
	return res, nil
}

func staleNotes(intent domain.Intent, now time.Time) string {
	hours := int(now.Sub(intent.CreatedAt).Hours())
	notes := fmt.Sprintf("cleaned after %dh", hours)
	if intent.LastError != "" {
		notes += "; last error: " + intent.LastError
	}
	return notes
}
