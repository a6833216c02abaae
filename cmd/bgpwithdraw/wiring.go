package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/djlord-it/bgp-withdraw/internal/analytics"
	"github.com/djlord-it/bgp-withdraw/internal/circuitbreaker"
	"github.com/djlord-it/bgp-withdraw/internal/config"
	"github.com/djlord-it/bgp-withdraw/internal/metrics"
	"github.com/djlord-it/bgp-withdraw/internal/notify"
	"github.com/djlord-it/bgp-withdraw/internal/processor"
	"github.com/djlord-it/bgp-withdraw/internal/reaper"
	"github.com/djlord-it/bgp-withdraw/internal/remote"
	"github.com/djlord-it/bgp-withdraw/internal/remote/cloudflare"
	"github.com/djlord-it/bgp-withdraw/internal/runlock"
	"github.com/djlord-it/bgp-withdraw/internal/store/sqlstore"
)

// env bundles what every command needs: config plus an open store.
type env struct {
	cfg   config.Config
	db    *sql.DB
	store *sqlstore.Store
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

// loadConfig loads and validates configuration. Provider settings are
// checked only when withProvider is set.
func loadConfig(withProvider bool) (config.Config, error) {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		return cfg, cli.Exit(fmt.Sprintf("configuration error: %v", err), exitInvalidConfig)
	}
	if withProvider {
		if err := config.ValidateProvider(cfg); err != nil {
			return cfg, cli.Exit(fmt.Sprintf("configuration error: %v", err), exitInvalidConfig)
		}
	}
	return cfg, nil
}

// openEnv loads config and opens the store. When migrate is set pending
// schema migrations are applied first.
func openEnv(ctx context.Context, withProvider, migrate bool) (*env, error) {
	cfg, err := loadConfig(withProvider)
	if err != nil {
		return nil, err
	}

	dialect, err := sqlstore.DialectByName(cfg.StoreDriver)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidConfig)
	}

	db, err := sql.Open(dialect.DriverName, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect.Name == sqlstore.SQLite.Name {
		// One writer at a time; avoids SQLITE_BUSY between pool connections.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	e := &env{cfg: cfg, db: db, store: sqlstore.New(db, dialect, cfg.DBOpTimeout)}
	if migrate {
		if err := e.store.Migrate(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return e, nil
}

// newProvider builds the Cloudflare client and the checker wrapped in a
// circuit breaker when one is configured.
func newProvider(cfg config.Config) (*cloudflare.Client, remote.Checker, error) {
	mapping, err := cloudflare.LoadMapping(cfg.PrefixMappingPath)
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("prefix mapping: %v", err), exitInvalidConfig)
	}

	client := cloudflare.New(cloudflare.Config{
		BaseURL:   cfg.CloudflareAPIURL,
		AccountID: cfg.CloudflareAccountID,
		APIToken:  cfg.CloudflareAPIToken,
		Timeout:   cfg.RemoteTimeout,
	}, mapping)
	log.Printf("bgpwithdraw: provider configured (prefixes=%d)", len(mapping))

	var checker remote.Checker = client
	if cfg.CheckerBreakerThreshold > 0 {
		cb := circuitbreaker.New(cfg.CheckerBreakerThreshold, cfg.CheckerBreakerCooldown)
		checker = remote.NewBreakerChecker(client, cb)
	}
	return client, checker, nil
}

// newNotifier returns the configured sinks, or the log sink when none is set.
func newNotifier(cfg config.Config) notify.Sink {
	var sinks notify.Multi
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.NotifyTimeout))
	}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, cfg.NotifyTimeout))
	}
	switch len(sinks) {
	case 0:
		return notify.LogSink{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

func newRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// newLocker picks the run lock. fallback is used for RUN_LOCK=none.
func newLocker(cfg config.Config, db *sql.DB, rdb *redis.Client, fallback runlock.Locker) runlock.Locker {
	switch cfg.RunLock {
	case "postgres":
		return runlock.NewPostgresLocker(db, runlock.AdvisoryKey(cfg.RunLockKey))
	case "redis":
		return runlock.NewRedisLocker(rdb, cfg.RunLockKey, cfg.RunLockTTL)
	default:
		return fallback
	}
}

type processorDeps struct {
	notifier notify.Sink
	locker   runlock.Locker
	metrics  metrics.Sink
	redis    *redis.Client
}

func newProcessor(e *env, checker remote.Checker, mutator remote.Mutator, deps processorDeps) *processor.Processor {
	sweeper := reaper.New(e.store).WithMetrics(deps.metrics)

	p := processor.New(processor.Config{
		StaleMaxAge:             e.cfg.StaleMaxAge,
		RemoteTimeout:           e.cfg.RemoteTimeout,
		Operator:                e.cfg.OperatorName,
		MirrorDuplicateFailures: e.cfg.DedupMirrorFailures,
	}, e.store, sweeper, checker, mutator).
		WithNotifier(deps.notifier).
		WithLocker(deps.locker).
		WithMetrics(deps.metrics)

	if deps.redis != nil {
		p = p.WithAnalytics(analytics.NewRedisSink(deps.redis, analytics.DefaultConfig()))
		log.Printf("bgpwithdraw: analytics enabled (redis=%s)", e.cfg.RedisAddr)
	}
	return p
}
