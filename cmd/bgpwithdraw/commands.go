package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/djlord-it/bgp-withdraw/internal/api"
	"github.com/djlord-it/bgp-withdraw/internal/config"
	"github.com/djlord-it/bgp-withdraw/internal/domain"
	"github.com/djlord-it/bgp-withdraw/internal/reaper"
	"github.com/djlord-it/bgp-withdraw/internal/remote/cloudflare"
	"github.com/djlord-it/bgp-withdraw/internal/runlock"
)

func installSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

var cmdRun = &cli.Command{
	Name:   "run",
	Usage:  "Run the processor once: sweep stale intents, then withdraw every due one",
	Action: runOnce,
}

func runOnce(c *cli.Context) error {
	ctx, cancel := installSignals(c.Context)
	defer cancel()

	e, err := openEnv(ctx, true, true)
	if err != nil {
		return err
	}
	defer e.Close()

	client, checker, err := newProvider(e.cfg)
	if err != nil {
		return err
	}

	rdb := newRedis(e.cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	p := newProcessor(e, checker, client, processorDeps{
		notifier: newNotifier(e.cfg),
		locker:   newLocker(e.cfg, e.db, rdb, runlock.Noop{}),
		redis:    rdb,
	})

	report := p.Run(ctx)
	printReport(c.App.Writer, report)

	if report.Failed() {
		return cli.Exit("", report.ExitCode())
	}
	return nil
}

var cmdEnqueue = &cli.Command{
	Name:  "enqueue",
	Usage: "Schedule a withdrawal for a resource",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "resource", Aliases: []string{"r"}, Usage: "Resource key, as in the prefix mapping", Required: true},
		&cli.DurationFlag{Name: "after", Usage: "Eligible this long from now"},
		&cli.StringFlag{Name: "at", Usage: "Eligible at this RFC3339 time"},
		&cli.StringFlag{Name: "correlation-id", Usage: "Attack or event id; one intent per resource and id"},
		&cli.StringFlag{Name: "policy-id"},
		&cli.StringFlag{Name: "policy-name"},
		&cli.StringFlag{Name: "target-ip"},
		&cli.StringFlag{Name: "classification"},
		&cli.StringFlag{Name: "announced-at", Usage: "When the prefix was announced (RFC3339)"},
		&cli.StringFlag{Name: "ended-at", Usage: "When the attack ended (RFC3339)"},
		&cli.IntFlag{Name: "max-retries", Usage: "Retry budget (default: DEFAULT_MAX_RETRIES)"},
	},
	Action: runEnqueue,
}

func runEnqueue(c *cli.Context) error {
	req := api.EnqueueRequest{
		ResourceKey:    c.String("resource"),
		CorrelationID:  c.String("correlation-id"),
		EligibleAt:     c.String("at"),
		AnnouncedAt:    c.String("announced-at"),
		EndedAt:        c.String("ended-at"),
		MaxRetries:     c.Int("max-retries"),
		PolicyID:       c.String("policy-id"),
		PolicyName:     c.String("policy-name"),
		TargetIP:       c.String("target-ip"),
		Classification: c.String("classification"),
	}
	if c.IsSet("after") {
		secs := int(c.Duration("after").Seconds())
		req.DelaySeconds = &secs
	}

	now := time.Now().UTC()
	in, err := api.ValidateEnqueue(req, now)
	if err != nil {
		return cli.Exit(err.Error(), exitRuntimeError)
	}

	e, err := openEnv(c.Context, false, true)
	if err != nil {
		return err
	}
	defer e.Close()

	if in.MaxRetries == 0 {
		in.MaxRetries = e.cfg.DefaultMaxRetries
	}

	id, created, err := e.store.Enqueue(c.Context, in, now)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(c.App.Writer, "intent for %s already queued, nothing to do\n", in.ResourceKey)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "queued intent %d for %s, eligible at %s\n", id, in.ResourceKey, in.EligibleAt.Format(time.RFC3339))
	return nil
}

var cmdPending = &cli.Command{
	Name:  "pending",
	Usage: "List intents waiting for their first attempt",
	Action: func(c *cli.Context) error {
		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		intents, err := e.store.ListPending(c.Context)
		if err != nil {
			return err
		}
		printIntents(c.App.Writer, intents, false)
		return nil
	},
}

var cmdFailed = &cli.Command{
	Name:  "failed",
	Usage: "List intents whose last attempt failed",
	Action: func(c *cli.Context) error {
		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		intents, err := e.store.ListFailed(c.Context)
		if err != nil {
			return err
		}
		printIntents(c.App.Writer, intents, true)
		return nil
	},
}

var cmdHistory = &cli.Command{
	Name:  "history",
	Usage: "Show resolved intents, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
	},
	Action: func(c *cli.Context) error {
		limit := c.Int("limit")
		if limit <= 0 || limit > api.MaxLimit {
			return cli.Exit(fmt.Sprintf("limit must be between 1 and %d", api.MaxLimit), exitRuntimeError)
		}

		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		recs, err := e.store.History(c.Context, limit)
		if err != nil {
			return err
		}
		printHistory(c.App.Writer, recs)
		return nil
	},
}

var cmdStats = &cli.Command{
	Name:  "stats",
	Usage: "Show live intent counts and history totals",
	Action: func(c *cli.Context) error {
		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		st, err := e.store.Stats(c.Context, time.Now())
		if err != nil {
			return err
		}
		printStats(c.App.Writer, st)
		return nil
	},
}

var cmdReset = &cli.Command{
	Name:      "reset",
	Usage:     "Make a failed intent eligible again now, keeping its retry count",
	ArgsUsage: "<intent-id>",
	Action: func(c *cli.Context) error {
		id, err := intentIDArg(c)
		if err != nil {
			return err
		}

		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.store.ResetFailed(c.Context, id, time.Now()); err != nil {
			if errors.Is(err, domain.ErrIntentNotFound) {
				return cli.Exit(fmt.Sprintf("no failed intent with id %d", id), exitRuntimeError)
			}
			return err
		}
		fmt.Fprintf(c.App.Writer, "intent %d reset for retry\n", id)
		return nil
	},
}

var cmdResolve = &cli.Command{
	Name:      "resolve",
	Usage:     "Mark an intent as withdrawn by hand",
	ArgsUsage: "<intent-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "note", Usage: "Recorded in history"},
	},
	Action: func(c *cli.Context) error {
		id, err := intentIDArg(c)
		if err != nil {
			return err
		}

		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		rec, err := e.store.ResolveManual(c.Context, id, c.String("note"), time.Now())
		if err != nil {
			if errors.Is(err, domain.ErrIntentNotFound) {
				return cli.Exit(fmt.Sprintf("no live intent with id %d", id), exitRuntimeError)
			}
			return err
		}
		fmt.Fprintf(c.App.Writer, "intent %d resolved manually (history %d)\n", id, rec.ID)
		return nil
	},
}

var cmdSweep = &cli.Command{
	Name:  "sweep",
	Usage: "Move intents older than --max-age to history as stale",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "max-age", Usage: "Default: STALE_MAX_AGE"},
	},
	Action: func(c *cli.Context) error {
		e, err := openEnv(c.Context, false, false)
		if err != nil {
			return err
		}
		defer e.Close()

		maxAge := e.cfg.StaleMaxAge
		if c.IsSet("max-age") {
			maxAge = c.Duration("max-age")
		}
		if maxAge <= 0 {
			return cli.Exit("max-age must be positive", exitRuntimeError)
		}

		res, err := reaper.New(e.store).Sweep(c.Context, time.Now(), maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "swept %d stale intents (skipped %d)\n", len(res.Swept), res.Skipped)
		printHistory(c.App.Writer, res.Swept)
		return nil
	},
}

var cmdCheck = &cli.Command{
	Name:      "check",
	Usage:     "Show the provider's advertisement state for a resource",
	ArgsUsage: "<resource>",
	Action: func(c *cli.Context) error {
		resource := c.Args().First()
		if resource == "" {
			return cli.Exit("resource argument required", exitRuntimeError)
		}

		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		client, _, err := newProvider(cfg)
		if err != nil {
			return err
		}

		st, err := client.State(c.Context, resource)
		if err != nil {
			return err
		}
		printState(c.App.Writer, resource, st, time.Now(), cloudflare.DwellTime)
		return nil
	},
}

var cmdMigrate = &cli.Command{
	Name:  "migrate",
	Usage: "Apply pending schema migrations",
	Action: func(c *cli.Context) error {
		e, err := openEnv(c.Context, false, true)
		if err != nil {
			return err
		}
		defer e.Close()
		fmt.Fprintln(c.App.Writer, "schema up to date")
		return nil
	},
}

var cmdValidate = &cli.Command{
	Name:  "validate",
	Usage: "Validate configuration (no connections made)",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if _, err := cloudflare.LoadMapping(cfg.PrefixMappingPath); err != nil {
			return cli.Exit(fmt.Sprintf("prefix mapping: %v", err), exitInvalidConfig)
		}
		fmt.Fprintln(c.App.Writer, "configuration valid")
		return nil
	},
}

var cmdConfig = &cli.Command{
	Name:  "config",
	Usage: "Print effective configuration as JSON (secrets masked)",
	Action: func(c *cli.Context) error {
		data, err := config.Load().MaskedJSON()
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintln(c.App.Writer, string(data))
		return nil
	},
}

var cmdVersion = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		fmt.Fprintf(c.App.Writer, "bgpwithdraw version %s (commit: %s)\n", version, commit)
		return nil
	},
}

func intentIDArg(c *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.Exit("intent id must be a positive integer", exitRuntimeError)
	}
	return id, nil
}
