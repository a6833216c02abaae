package main

import (
	"log"

	"github.com/djlord-it/bgp-withdraw/internal/config"
)

// logConfigWarnings flags configurations that run but are risky in production.
func logConfigWarnings(cfg *config.Config) {
	if cfg.RunLock == "none" {
		log.Println("bgpwithdraw: WARNING [P0]: RUN_LOCK=none; runs are serialized within this process only. " +
			"A cron-driven 'run' next to 'serve' can withdraw the same resource twice.")
	}

	if !cfg.NotificationsConfigured() {
		log.Println("bgpwithdraw: WARNING [P1]: no notification sink configured; run outcomes are only logged. " +
			"Set TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID or NOTIFY_WEBHOOK_URL.")
	}

	if !cfg.MetricsEnabled {
		log.Println("bgpwithdraw: WARNING [P1]: METRICS_ENABLED=false; failed and abandoned withdrawals are not observable.")
	}

	if cfg.CheckerBreakerThreshold == 0 {
		log.Println("bgpwithdraw: INFO: CHECKER_BREAKER_THRESHOLD=0; every run queries the provider state even while it is failing.")
	}

	if cfg.StoreDriver == "sqlite" {
		log.Println("bgpwithdraw: INFO: STORE_DRIVER=sqlite; keep a single instance per database file.")
	}
}
