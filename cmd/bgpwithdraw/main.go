package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	err := newApp().Run(args)
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := ec.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return ec.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return exitRuntimeError
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "bgpwithdraw",
		Usage:   "schedule and retry BGP prefix withdrawals after mitigation",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// Exit codes are handled by run so tests can drive the app in-process.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			cmdRun,
			cmdServe,
			cmdEnqueue,
			cmdPending,
			cmdFailed,
			cmdHistory,
			cmdStats,
			cmdReset,
			cmdResolve,
			cmdSweep,
			cmdCheck,
			cmdMigrate,
			cmdValidate,
			cmdConfig,
			cmdVersion,
		},
		CustomAppHelpTemplate: cli.AppHelpTemplate + envHelp,
	}
}

const envHelp = `
ENVIRONMENT:
   DATABASE_URL               Store DSN, or file path for sqlite (required)
   STORE_DRIVER               "postgres" or "sqlite" (default: "postgres")
   ENV_FILE                   Optional env file (default: ".env")
   DB_OP_TIMEOUT              Database operation timeout (default: "5s")
   DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
   DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
   DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
   DB_CONN_MAX_IDLE_TIME      Max connection idle time (default: "5m")

   HTTP_ADDR                  HTTP server address (default: ":8080")
   HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

   RUN_SCHEDULE               Cron expression for serve mode (default: "*/5 * * * *")
   RUN_TIMEZONE               Timezone for RUN_SCHEDULE (default: "UTC")
   STALE_MAX_AGE              Age after which intents are swept (default: "24h")
   DEFAULT_MAX_RETRIES        Retry budget for new intents (default: "5")
   REMOTE_TIMEOUT             Provider call timeout (default: "30s")
   DEDUP_MIRROR_FAILURES      Duplicates inherit failures (default: "false")
   OPERATOR_NAME              Operator shown in notifications

   CLOUDFLARE_API_URL         Provider API base URL
   CLOUDFLARE_ACCOUNT_ID      Provider account (required for run/serve/check)
   CLOUDFLARE_API_TOKEN       Provider API token (required for run/serve/check)
   PREFIX_MAPPING_PATH        Resource mapping file (default: "prefixes.yaml")
   CHECKER_BREAKER_THRESHOLD  Failures before state checks are skipped, 0 disables (default: "5")
   CHECKER_BREAKER_COOLDOWN   Breaker cooldown (default: "2m")

   TELEGRAM_BOT_TOKEN         Telegram bot token
   TELEGRAM_CHAT_ID           Telegram chat id
   NOTIFY_WEBHOOK_URL         JSON webhook for run notifications
   NOTIFY_WEBHOOK_SECRET      HMAC secret for the webhook signature
   NOTIFY_TIMEOUT             Notification delivery timeout (default: "10s")
   NOTIFY_BUFFER_SIZE         Serve mode notification buffer (default: "100")
   NOTIFY_DRAIN_TIMEOUT       Notification drain on shutdown (default: "30s")

   REDIS_ADDR                 Redis for outcome analytics and the redis run lock
   RUN_LOCK                   "none", "postgres" or "redis" (default: "none")
   RUN_LOCK_KEY               Lock name (default: "bgpwithdraw:run")
   RUN_LOCK_TTL               Redis lock expiry (default: "10m")

   METRICS_ENABLED            Enable Prometheus metrics (default: "false")
   METRICS_PATH               Metrics endpoint path (default: "/metrics")
   METRICS_PORT               Separate metrics port (default: served on HTTP_ADDR)
`
