package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for bgpwithdraw.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	StoreDriver string `json:"store_driver"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// RunSchedule is a cron expression evaluated in RunTimezone.
	RunSchedule string `json:"run_schedule"`
	RunTimezone string `json:"run_timezone"`

	StaleMaxAge    time.Duration `json:"-"`
	StaleMaxAgeStr string        `json:"stale_max_age"`

	DefaultMaxRetries int `json:"default_max_retries"`

	RemoteTimeout    time.Duration `json:"-"`
	RemoteTimeoutStr string        `json:"remote_timeout"`

	CloudflareAPIURL    string `json:"cloudflare_api_url"`
	CloudflareAccountID string `json:"cloudflare_account_id"`
	CloudflareAPIToken  string `json:"cloudflare_api_token"`
	PrefixMappingPath   string `json:"prefix_mapping_path"`

	// CheckerBreakerThreshold: 0 disables the breaker around state checks.
	CheckerBreakerThreshold   int           `json:"checker_breaker_threshold"`
	CheckerBreakerCooldown    time.Duration `json:"-"`
	CheckerBreakerCooldownStr string        `json:"checker_breaker_cooldown"`

	TelegramBotToken    string `json:"telegram_bot_token"`
	TelegramChatID      string `json:"telegram_chat_id"`
	NotifyWebhookURL    string `json:"notify_webhook_url"`
	NotifyWebhookSecret string `json:"notify_webhook_secret"`

	NotifyTimeout         time.Duration `json:"-"`
	NotifyTimeoutStr      string        `json:"notify_timeout"`
	NotifyBufferSize      int           `json:"notify_buffer_size"`
	NotifyDrainTimeout    time.Duration `json:"-"`
	NotifyDrainTimeoutStr string        `json:"notify_drain_timeout"`

	// RunLock: "none", "postgres" or "redis".
	RunLock       string        `json:"run_lock"`
	RunLockKey    string        `json:"run_lock_key"`
	RunLockTTL    time.Duration `json:"-"`
	RunLockTTLStr string        `json:"run_lock_ttl"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port,omitempty"`

	OperatorName string `json:"operator_name"`

	// DedupMirrorFailures makes a duplicate intent inherit the failure of its
	// resource's first intent in a run instead of resolving as success.
	DedupMirrorFailures bool `json:"dedup_mirror_failures"`
}

// LoadEnvFile loads variables from path (ENV_FILE, default ".env") into the
// process environment. Variables already set win. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = os.Getenv("ENV_FILE")
	}
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	if err := LoadEnvFile(""); err != nil {
		log.Printf("config: failed to load env file: %v", err)
	}

	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		StoreDriver:               envOr("STORE_DRIVER", "postgres"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		DBOpTimeoutStr:            envOr("DB_OP_TIMEOUT", "5s"),
		DBConnMaxLifetimeStr:      envOr("DB_CONN_MAX_LIFETIME", "30m"),
		DBConnMaxIdleTimeStr:      envOr("DB_CONN_MAX_IDLE_TIME", "5m"),
		HTTPShutdownTimeoutStr:    envOr("HTTP_SHUTDOWN_TIMEOUT", "10s"),
		RunSchedule:               envOr("RUN_SCHEDULE", "*/5 * * * *"),
		RunTimezone:               envOr("RUN_TIMEZONE", "UTC"),
		StaleMaxAgeStr:            envOr("STALE_MAX_AGE", "24h"),
		RemoteTimeoutStr:          envOr("REMOTE_TIMEOUT", "30s"),
		CloudflareAPIURL:          os.Getenv("CLOUDFLARE_API_URL"),
		CloudflareAccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		CloudflareAPIToken:        os.Getenv("CLOUDFLARE_API_TOKEN"),
		PrefixMappingPath:         envOr("PREFIX_MAPPING_PATH", "prefixes.yaml"),
		CheckerBreakerCooldownStr: envOr("CHECKER_BREAKER_COOLDOWN", "2m"),
		TelegramBotToken:          os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:            os.Getenv("TELEGRAM_CHAT_ID"),
		NotifyWebhookURL:          os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:       os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		NotifyTimeoutStr:          envOr("NOTIFY_TIMEOUT", "10s"),
		NotifyDrainTimeoutStr:     envOr("NOTIFY_DRAIN_TIMEOUT", "30s"),
		RunLock:                   envOr("RUN_LOCK", "none"),
		RunLockKey:                envOr("RUN_LOCK_KEY", "bgpwithdraw:run"),
		RunLockTTLStr:             envOr("RUN_LOCK_TTL", "10m"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               envOr("METRICS_PATH", "/metrics"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		OperatorName:              os.Getenv("OPERATOR_NAME"),
		DedupMirrorFailures:       os.Getenv("DEDUP_MIRROR_FAILURES") == "true",
	}

	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DefaultMaxRetries = positiveInt("DEFAULT_MAX_RETRIES", 5)
	cfg.NotifyBufferSize = positiveInt("NOTIFY_BUFFER_SIZE", 100)

	if s := os.Getenv("CHECKER_BREAKER_THRESHOLD"); s != "" {
		if n, err := parseInt(s); err == nil {
			cfg.CheckerBreakerThreshold = n
		} else {
			log.Printf("config: invalid CHECKER_BREAKER_THRESHOLD %q, using default 5", s)
			cfg.CheckerBreakerThreshold = 5
		}
	} else {
		cfg.CheckerBreakerThreshold = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range cfg.durations() {
		if v, err := time.ParseDuration(*d.str); err == nil {
			*d.dst = v
		}
	}

	return cfg
}

type durationField struct {
	env string
	str *string
	dst *time.Duration
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"DB_OP_TIMEOUT", &c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"HTTP_SHUTDOWN_TIMEOUT", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"STALE_MAX_AGE", &c.StaleMaxAgeStr, &c.StaleMaxAge},
		{"REMOTE_TIMEOUT", &c.RemoteTimeoutStr, &c.RemoteTimeout},
		{"CHECKER_BREAKER_COOLDOWN", &c.CheckerBreakerCooldownStr, &c.CheckerBreakerCooldown},
		{"NOTIFY_TIMEOUT", &c.NotifyTimeoutStr, &c.NotifyTimeout},
		{"NOTIFY_DRAIN_TIMEOUT", &c.NotifyDrainTimeoutStr, &c.NotifyDrainTimeout},
		{"RUN_LOCK_TTL", &c.RunLockTTLStr, &c.RunLockTTL},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := parseInt(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// NotificationsConfigured reports whether any notification sink is set.
func (c Config) NotificationsConfigured() bool {
	return (c.TelegramBotToken != "" && c.TelegramChatID != "") || c.NotifyWebhookURL != ""
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	if c.StoreDriver != "sqlite" {
		masked.DatabaseURL = maskSecret(c.DatabaseURL)
	}
	masked.CloudflareAPIToken = maskToken(c.CloudflareAPIToken)
	masked.TelegramBotToken = maskToken(c.TelegramBotToken)
	masked.NotifyWebhookSecret = maskToken(c.NotifyWebhookSecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// maskToken keeps the last four characters of long tokens.
func maskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
