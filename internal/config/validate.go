package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration needed by every command.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.DatabaseURL == "" {
		add("DATABASE_URL", "required")
	}

	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "sqlite" {
		add("STORE_DRIVER", "must be 'postgres' or 'sqlite', got %q", cfg.StoreDriver)
	}

	for _, d := range cfg.durations() {
		if *d.str == "" {
			continue
		}
		v, err := time.ParseDuration(*d.str)
		if err != nil {
			add(d.env, "invalid duration: %v", err)
		} else if v <= 0 {
			add(d.env, "must be positive")
		}
	}

	if err := cron.NewParser().Validate(cfg.RunSchedule, cfg.RunTimezone); err != nil {
		add("RUN_SCHEDULE", "%v", err)
	}

	if cfg.CheckerBreakerThreshold < 0 {
		add("CHECKER_BREAKER_THRESHOLD", "must not be negative")
	}

	switch cfg.RunLock {
	case "", "none":
	case "postgres":
		if cfg.StoreDriver != "postgres" {
			add("RUN_LOCK", "postgres lock requires STORE_DRIVER=postgres")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			add("RUN_LOCK", "redis lock requires REDIS_ADDR")
		}
	default:
		add("RUN_LOCK", "must be 'none', 'postgres' or 'redis', got %q", cfg.RunLock)
	}

	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		add("TELEGRAM_CHAT_ID", "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if cfg.NotifyWebhookURL != "" {
		if err := validateHTTPURL(cfg.NotifyWebhookURL); err != nil {
			add("NOTIFY_WEBHOOK_URL", "%v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateProvider checks the settings needed to talk to the routing
// provider. Only commands that withdraw or check prefixes need them.
func ValidateProvider(cfg Config) error {
	var errs ValidationErrors
	if cfg.CloudflareAccountID == "" {
		errs = append(errs, ValidationError{Field: "CLOUDFLARE_ACCOUNT_ID", Message: "required"})
	}
	if cfg.CloudflareAPIToken == "" {
		errs = append(errs, ValidationError{Field: "CLOUDFLARE_API_TOKEN", Message: "required"})
	}
	if cfg.PrefixMappingPath == "" {
		errs = append(errs, ValidationError{Field: "PREFIX_MAPPING_PATH", Message: "required"})
	}
	if cfg.CloudflareAPIURL != "" {
		if err := validateHTTPURL(cfg.CloudflareAPIURL); err != nil {
			errs = append(errs, ValidationError{Field: "CLOUDFLARE_API_URL", Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
