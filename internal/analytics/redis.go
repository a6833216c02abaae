// Package analytics keeps rolling per-resource outcome counters in Redis so
// dashboards can chart withdrawals without querying the store.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one resolved intent.
type Event struct {
	ResourceKey string
	Outcome     string
	At          time.Time
}

// Config controls bucketing and expiry.
type Config struct {
	// Window is the bucket width: 1m, 5m or 1h. Other values fall back to 1m.
	Window time.Duration
	// Retention is the TTL applied to each bucket key.
	Retention time.Duration
}

// DefaultConfig buckets hourly and keeps a week.
func DefaultConfig() Config {
	return Config{Window: time.Hour, Retention: 7 * 24 * time.Hour}
}

type RedisSink struct {
	client redis.Cmdable
	config Config
}

func NewRedisSink(client redis.Cmdable, config Config) *RedisSink {
	return &RedisSink{client: client, config: config}
}

// Write increments the global and per-resource counters for the event's
// outcome and bucket.
func (s *RedisSink) Write(ctx context.Context, event Event) error {
	bucket := truncateToBucket(event.At, s.config.Window)

	pipe := s.client.Pipeline()
	for _, key := range []string{
		buildKey("all", event.Outcome, bucket),
		buildKey(event.ResourceKey, event.Outcome, bucket),
	} {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.config.Retention)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(resource, outcome, bucket string) string {
	return fmt.Sprintf("bgpw:r:%s:%s:%s", resource, outcome, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
