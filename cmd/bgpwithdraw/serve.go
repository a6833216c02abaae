package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/djlord-it/bgp-withdraw/internal/api"
	"github.com/djlord-it/bgp-withdraw/internal/cron"
	"github.com/djlord-it/bgp-withdraw/internal/metrics"
	"github.com/djlord-it/bgp-withdraw/internal/notify"
	"github.com/djlord-it/bgp-withdraw/internal/processor"
	"github.com/djlord-it/bgp-withdraw/internal/reaper"
	"github.com/djlord-it/bgp-withdraw/internal/runlock"
	"github.com/djlord-it/bgp-withdraw/internal/scheduler"
)

var cmdServe = &cli.Command{
	Name:   "serve",
	Usage:  "Run on RUN_SCHEDULE and serve the HTTP API",
	Action: runServe,
}

func runServe(c *cli.Context) error {
	ctx, stop := installSignals(c.Context)
	defer stop()

	e, err := openEnv(ctx, true, true)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg

	log.Printf("bgpwithdraw: store ready (driver=%s, max_open=%d, max_idle=%d)",
		cfg.StoreDriver, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	logConfigWarnings(&cfg)

	schedule, err := cron.NewParser().Parse(cfg.RunSchedule, cfg.RunTimezone)
	if err != nil {
		return cli.Exit(fmt.Sprintf("RUN_SCHEDULE: %v", err), exitInvalidConfig)
	}

	client, checker, err := newProvider(cfg)
	if err != nil {
		return err
	}

	// Initialize metrics sink (optional)
	var metricsSink metrics.Sink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	} else {
		log.Println("bgpwithdraw: METRICS_ENABLED not set; metrics disabled")
	}

	queue := notify.NewQueue(newNotifier(cfg), cfg.NotifyBufferSize,
		notify.WithDrainTimeout(cfg.NotifyDrainTimeout),
		notify.WithMetrics(metricsSink))

	rdb := newRedis(cfg)
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Println("bgpwithdraw: REDIS_ADDR not set; analytics disabled")
	}

	// The local lock keeps API-triggered and scheduled runs from overlapping
	// when no shared lock is configured.
	proc := newProcessor(e, checker, client, processorDeps{
		notifier: queue,
		locker:   newLocker(cfg, e.db, rdb, &runlock.Local{}),
		metrics:  metricsSink,
		redis:    rdb,
	})

	sched := scheduler.New(scheduler.Config{}, schedule, proc).
		WithReportHook(func(r processor.Report) {
			if r.Failed() {
				log.Printf("bgpwithdraw: scheduled run=%s had %d failures", r.RunID, r.FailedCount())
			}
		})

	sweeper := reaper.New(e.store).WithMetrics(metricsSink)
	apiHandler := api.NewHandler(e.store).
		WithHealthChecker(e.db).
		WithRunner(proc).
		WithSweeper(sweeper, cfg.StaleMaxAge).
		WithDefaultMaxRetries(cfg.DefaultMaxRetries)

	var handler http.Handler = apiHandler
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		if cfg.MetricsPort == "" {
			mux := http.NewServeMux()
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
			mux.Handle("/", apiHandler)
			handler = mux
			log.Printf("bgpwithdraw: metrics enabled (path=%s on %s)", cfg.MetricsPath, cfg.HTTPAddr)
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:    ":" + cfg.MetricsPort,
				Handler: metricsMux,
			}
			go func() {
				log.Printf("bgpwithdraw: metrics server listening on :%s", cfg.MetricsPort)
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("bgpwithdraw: metrics server error: %v", err)
				}
			}()
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}
	go func() {
		log.Printf("bgpwithdraw: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("bgpwithdraw: http server error: %v", err)
			stop()
		}
	}()

	// Separate contexts for scheduler and notifier enable ordered shutdown.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	notifierCtx, cancelNotifier := context.WithCancel(context.Background())

	var schedulerWg sync.WaitGroup
	var notifierWg sync.WaitGroup

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		sched.Run(schedulerCtx)
	}()

	notifierWg.Add(1)
	go func() {
		defer notifierWg.Done()
		queue.Run(notifierCtx)
	}()

	log.Printf("bgpwithdraw: started (schedule=%q, timezone=%s, http=%s)", cfg.RunSchedule, cfg.RunTimezone, cfg.HTTPAddr)

	<-ctx.Done()
	log.Println("bgpwithdraw: shutting down")

	// Phase 1: Stop scheduler. A run in progress stops before its next intent.
	log.Println("bgpwithdraw: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("bgpwithdraw: scheduler stopped")

	// Phase 2: Stop HTTP server; API-triggered runs finish first.
	log.Println("bgpwithdraw: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("bgpwithdraw: http server shutdown error: %v", err)
	}
	log.Println("bgpwithdraw: http server stopped")

	// Phase 3: Stop notifier (drains buffered messages before returning)
	log.Println("bgpwithdraw: stopping notifier (draining messages)...")
	cancelNotifier()
	notifierWg.Wait()
	log.Println("bgpwithdraw: notifier stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("bgpwithdraw: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("bgpwithdraw: metrics server shutdown error: %v", err)
		}
		log.Println("bgpwithdraw: metrics server stopped")
	}

	log.Println("bgpwithdraw: stopped")
	return nil
}
