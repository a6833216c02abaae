// Package scheduler triggers processor runs on the RUN_SCHEDULE cron
// expression in serve mode.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/processor"
)

// Runner executes one processor run.
type Runner interface {
	Run(ctx context.Context) processor.Report
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type Config struct {
	// TickInterval is how often the schedule is checked. Default: 10s.
	TickInterval time.Duration
}

type Scheduler struct {
	config   Config
	schedule Schedule
	runner   Runner
	onReport func(processor.Report)
	clock    func() time.Time
	lastTick time.Time
}

func New(config Config, schedule Schedule, runner Runner) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 10 * time.Second
	}
	return &Scheduler{
		config:   config,
		schedule: schedule,
		runner:   runner,
		clock:    time.Now,
	}
}

// WithReportHook is called with the report of every scheduled run.
func (s *Scheduler) WithReportHook(fn func(processor.Report)) *Scheduler {
	s.onReport = fn
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run blocks until ctx is cancelled. A run in progress is allowed to finish
// its current intent; see processor.Run.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.lastTick = s.clock().UTC()
	log.Printf("scheduler: started, tick=%s next_run=%s",
		s.config.TickInterval, s.schedule.Next(s.lastTick).Format(time.RFC3339))

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.processTick(ctx)
		}
	}
}

// processTick runs the processor once if at least one fire time fell in
// (lastTick, now]. Missed fire times collapse into a single run.
func (s *Scheduler) processTick(ctx context.Context) {
	now := s.clock().UTC()
	due := s.dueSince(s.lastTick, now)
	s.lastTick = now

	if due == 0 {
		return
	}
	if due > 1 {
		log.Printf("scheduler: %d fire times since last tick, running once", due)
	}

	report := s.runner.Run(ctx)
	switch {
	case report.Skipped:
		log.Printf("scheduler: run=%s skipped", report.RunID)
	case report.Failed():
		log.Printf("scheduler: run=%s finished with failures, succeeded=%d failed=%d",
			report.RunID, report.SucceededCount(), report.FailedCount())
	}

	if s.onReport != nil {
		s.onReport(report)
	}
}

func (s *Scheduler) dueSince(lastTick, now time.Time) int {
	const maxIterations = 1000
	n := 0
	t := s.schedule.Next(lastTick)
	for i := 0; i < maxIterations && !t.After(now); i++ {
		n++
		t = s.schedule.Next(t)
	}
	return n
}
