package api

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/domain"
)

// maxDelay bounds delay_seconds and how far ahead eligible_at may be.
const maxDelay = 7 * 24 * time.Hour

// ValidateEnqueue turns a request into a NewIntent, resolving the eligible
// time against now. Shared by the HTTP API and the enqueue command.
func ValidateEnqueue(req EnqueueRequest, now time.Time) (domain.NewIntent, error) {
	in := domain.NewIntent{
		ResourceKey:   req.ResourceKey,
		CorrelationID: req.CorrelationID,
		MaxRetries:    req.MaxRetries,
		Context: domain.IntentContext{
			PolicyID:       req.PolicyID,
			PolicyName:     req.PolicyName,
			TargetIP:       req.TargetIP,
			Classification: req.Classification,
		},
	}

	if req.ResourceKey == "" {
		return in, fmt.Errorf("resource_key is required")
	}
	if req.MaxRetries < 0 {
		return in, fmt.Errorf("max_retries must not be negative")
	}
	if req.TargetIP != "" {
		if _, err := netip.ParseAddr(req.TargetIP); err != nil {
			return in, fmt.Errorf("invalid target_ip: %w", err)
		}
	}

	switch {
	case req.EligibleAt != "" && req.DelaySeconds != nil:
		return in, fmt.Errorf("set only one of eligible_at and delay_seconds")
	case req.EligibleAt != "":
		t, err := time.Parse(time.RFC3339, req.EligibleAt)
		if err != nil {
			return in, fmt.Errorf("invalid eligible_at: %w", err)
		}
		if t.Sub(now) > maxDelay {
			return in, fmt.Errorf("eligible_at is more than %s ahead", maxDelay)
		}
		in.EligibleAt = t.UTC()
	case req.DelaySeconds != nil:
		d := time.Duration(*req.DelaySeconds) * time.Second
		if d < 0 {
			return in, fmt.Errorf("delay_seconds must not be negative")
		}
		if d > maxDelay {
			return in, fmt.Errorf("delay_seconds exceeds %s", maxDelay)
		}
		in.EligibleAt = now.Add(d).UTC()
	default:
		in.EligibleAt = now.UTC()
	}

	var err error
	if in.AnnouncedAt, err = parseOptionalTime("announced_at", req.AnnouncedAt); err != nil {
		return in, err
	}
	if in.EndedAt, err = parseOptionalTime("ended_at", req.EndedAt); err != nil {
		return in, err
	}
	return in, nil
}

func parseOptionalTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	t = t.UTC()
	return &t, nil
}
