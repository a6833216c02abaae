package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		"STORE_DRIVER", "DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME", "HTTP_ADDR", "PORT",
		"HTTP_SHUTDOWN_TIMEOUT", "RUN_SCHEDULE", "RUN_TIMEZONE", "STALE_MAX_AGE",
		"DEFAULT_MAX_RETRIES", "REMOTE_TIMEOUT", "CHECKER_BREAKER_THRESHOLD",
		"CHECKER_BREAKER_COOLDOWN", "NOTIFY_TIMEOUT", "NOTIFY_BUFFER_SIZE",
		"NOTIFY_DRAIN_TIMEOUT", "RUN_LOCK", "RUN_LOCK_TTL", "METRICS_PATH",
		"DEDUP_MIRROR_FAILURES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.StoreDriver != "postgres" {
		t.Errorf("StoreDriver: expected postgres, got %q", cfg.StoreDriver)
	}
	if cfg.DBOpTimeout != 5*time.Second {
		t.Errorf("DBOpTimeout: expected 5s, got %v", cfg.DBOpTimeout)
	}
	if cfg.DBMaxOpenConns != 25 || cfg.DBMaxIdleConns != 5 {
		t.Errorf("DB pool: expected 25/5, got %d/%d", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime != 30*time.Minute {
		t.Errorf("DBConnMaxLifetime: expected 30m, got %v", cfg.DBConnMaxLifetime)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.RunSchedule != "*/5 * * * *" || cfg.RunTimezone != "UTC" {
		t.Errorf("schedule: got %q in %q", cfg.RunSchedule, cfg.RunTimezone)
	}
	if cfg.StaleMaxAge != 24*time.Hour {
		t.Errorf("StaleMaxAge: expected 24h, got %v", cfg.StaleMaxAge)
	}
	if cfg.DefaultMaxRetries != 5 {
		t.Errorf("DefaultMaxRetries: expected 5, got %d", cfg.DefaultMaxRetries)
	}
	if cfg.RemoteTimeout != 30*time.Second {
		t.Errorf("RemoteTimeout: expected 30s, got %v", cfg.RemoteTimeout)
	}
	if cfg.CheckerBreakerThreshold != 5 || cfg.CheckerBreakerCooldown != 2*time.Minute {
		t.Errorf("breaker: got %d/%v", cfg.CheckerBreakerThreshold, cfg.CheckerBreakerCooldown)
	}
	if cfg.NotifyTimeout != 10*time.Second || cfg.NotifyBufferSize != 100 || cfg.NotifyDrainTimeout != 30*time.Second {
		t.Errorf("notify: got %v/%d/%v", cfg.NotifyTimeout, cfg.NotifyBufferSize, cfg.NotifyDrainTimeout)
	}
	if cfg.RunLock != "none" || cfg.RunLockTTL != 10*time.Minute {
		t.Errorf("run lock: got %q/%v", cfg.RunLock, cfg.RunLockTTL)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath: expected /metrics, got %q", cfg.MetricsPath)
	}
	if cfg.DedupMirrorFailures {
		t.Error("DedupMirrorFailures should default to false")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DB_OP_TIMEOUT", "10s")
	t.Setenv("DB_MAX_OPEN_CONNS", "50")
	t.Setenv("RUN_SCHEDULE", "@every 1m")
	t.Setenv("STALE_MAX_AGE", "12h")
	t.Setenv("DEFAULT_MAX_RETRIES", "3")
	t.Setenv("CHECKER_BREAKER_THRESHOLD", "0")
	t.Setenv("NOTIFY_BUFFER_SIZE", "10")
	t.Setenv("RUN_LOCK", "redis")
	t.Setenv("DEDUP_MIRROR_FAILURES", "true")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "9000")

	cfg := Load()

	if cfg.StoreDriver != "sqlite" {
		t.Errorf("StoreDriver: got %q", cfg.StoreDriver)
	}
	if cfg.DBOpTimeout != 10*time.Second {
		t.Errorf("DBOpTimeout: expected 10s, got %v", cfg.DBOpTimeout)
	}
	if cfg.DBMaxOpenConns != 50 {
		t.Errorf("DBMaxOpenConns: expected 50, got %d", cfg.DBMaxOpenConns)
	}
	if cfg.RunSchedule != "@every 1m" {
		t.Errorf("RunSchedule: got %q", cfg.RunSchedule)
	}
	if cfg.StaleMaxAge != 12*time.Hour {
		t.Errorf("StaleMaxAge: expected 12h, got %v", cfg.StaleMaxAge)
	}
	if cfg.DefaultMaxRetries != 3 {
		t.Errorf("DefaultMaxRetries: expected 3, got %d", cfg.DefaultMaxRetries)
	}
	if cfg.CheckerBreakerThreshold != 0 {
		t.Errorf("CheckerBreakerThreshold: explicit 0 should disable, got %d", cfg.CheckerBreakerThreshold)
	}
	if cfg.NotifyBufferSize != 10 {
		t.Errorf("NotifyBufferSize: expected 10, got %d", cfg.NotifyBufferSize)
	}
	if cfg.RunLock != "redis" {
		t.Errorf("RunLock: got %q", cfg.RunLock)
	}
	if !cfg.DedupMirrorFailures {
		t.Error("DedupMirrorFailures should be true")
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr: expected :9000 from PORT, got %q", cfg.HTTPAddr)
	}
}

func TestLoad_InvalidIntegersFallBack(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DB_MAX_OPEN_CONNS", "lots")
	t.Setenv("NOTIFY_BUFFER_SIZE", "0")
	t.Setenv("CHECKER_BREAKER_THRESHOLD", "-1")

	cfg := Load()

	if cfg.DBMaxOpenConns != 25 {
		t.Errorf("DBMaxOpenConns: expected default 25, got %d", cfg.DBMaxOpenConns)
	}
	if cfg.NotifyBufferSize != 100 {
		t.Errorf("NotifyBufferSize: expected default 100, got %d", cfg.NotifyBufferSize)
	}
	if cfg.CheckerBreakerThreshold != 5 {
		t.Errorf("CheckerBreakerThreshold: expected default 5, got %d", cfg.CheckerBreakerThreshold)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DATABASE_URL=postgres://file/bgp\nOPERATOR_NAME=from-file\nRUN_TIMEZONE=Europe/Paris\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPERATOR_NAME", "")
	// Already set in the environment: the file must not override it.
	t.Setenv("RUN_TIMEZONE", "Asia/Tokyo")
	// t.Setenv("X", "") leaves X set to empty, which godotenv treats as set.
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("OPERATOR_NAME")

	cfg := Load()

	if cfg.DatabaseURL != "postgres://file/bgp" {
		t.Errorf("DatabaseURL: expected value from file, got %q", cfg.DatabaseURL)
	}
	if cfg.OperatorName != "from-file" {
		t.Errorf("OperatorName: expected value from file, got %q", cfg.OperatorName)
	}
	if cfg.RunTimezone != "Asia/Tokyo" {
		t.Errorf("RunTimezone: environment should win over file, got %q", cfg.RunTimezone)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestMaskedJSON(t *testing.T) {
	cfg := Config{
		DatabaseURL:         "postgres://user:hunter2@db/bgp",
		StoreDriver:         "postgres",
		CloudflareAPIToken:  "cf-token-abcdef123456",
		TelegramBotToken:    "12345:telegram-secret",
		NotifyWebhookSecret: "short",
		RunSchedule:         "*/5 * * * *",
	}

	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON: %v", err)
	}
	out := string(data)

	for _, secret := range []string{"hunter2", "cf-token-abcdef", "telegram-secret", "short"} {
		if strings.Contains(out, secret) {
			t.Errorf("masked output leaks %q: %s", secret, out)
		}
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["database_url"] != "postgres://***" {
		t.Errorf("database_url = %v", m["database_url"])
	}
	if m["cloudflare_api_token"] != "***3456" {
		t.Errorf("cloudflare_api_token = %v", m["cloudflare_api_token"])
	}
	if m["run_schedule"] != "*/5 * * * *" {
		t.Errorf("run_schedule = %v", m["run_schedule"])
	}
}

func TestMaskedJSON_SQLitePathShown(t *testing.T) {
	cfg := Config{DatabaseURL: "/var/lib/bgpwithdraw.db", StoreDriver: "sqlite"}
	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "/var/lib/bgpwithdraw.db") {
		t.Errorf("sqlite path should be shown: %s", data)
	}
}

func TestNotificationsConfigured(t *testing.T) {
	if (Config{}).NotificationsConfigured() {
		t.Error("empty config has no notifications")
	}
	if (Config{TelegramBotToken: "t"}).NotificationsConfigured() {
		t.Error("telegram needs both token and chat id")
	}
	if !(Config{TelegramBotToken: "t", TelegramChatID: "c"}).NotificationsConfigured() {
		t.Error("telegram configured")
	}
	if !(Config{NotifyWebhookURL: "https://hooks.example.com"}).NotificationsConfigured() {
		t.Error("webhook configured")
	}
}
