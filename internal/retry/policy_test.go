package retry

import (
	"testing"
	"time"
)

func TestNext_BackoffSequence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// maxRetries high enough that none of these give up.
	want := []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute, 40 * time.Minute, 80 * time.Minute}
	for retryCount, backoff := range want {
		d := Next(retryCount, 10, now)
		if d.GiveUp {
			t.Fatalf("retryCount=%d: unexpected give up", retryCount)
		}
		if d.RetryCount != retryCount+1 {
			t.Errorf("retryCount=%d: RetryCount = %d, want %d", retryCount, d.RetryCount, retryCount+1)
		}
		if got := d.NextRetryAt.Sub(now); got != backoff {
			t.Errorf("retryCount=%d: backoff = %s, want %s", retryCount, got, backoff)
		}
	}
}

func TestNext_GivesUpAtMaxRetries(t *testing.T) {
	now := time.Now().UTC()

	for retryCount := 0; retryCount < 4; retryCount++ {
		if d := Next(retryCount, 5, now); d.GiveUp {
			t.Fatalf("retryCount=%d: gave up early", retryCount)
		}
	}

	d := Next(4, 5, now)
	if !d.GiveUp {
		t.Fatal("expected give up on fifth failure")
	}
	if d.RetryCount != 5 {
		t.Errorf("RetryCount = %d, want 5", d.RetryCount)
	}
	if !d.NextRetryAt.IsZero() {
		t.Errorf("NextRetryAt should be zero when giving up, got %s", d.NextRetryAt)
	}
}

func TestNext_DefaultMaxRetries(t *testing.T) {
	now := time.Now().UTC()
	if d := Next(3, 0, now); d.GiveUp {
		t.Fatal("retryCount=3 with default budget should retry")
	}
	if d := Next(4, 0, now); !d.GiveUp {
		t.Fatal("retryCount=4 with default budget should give up")
	}
}

func TestNext_SingleAttemptBudget(t *testing.T) {
	if d := Next(0, 1, time.Now()); !d.GiveUp {
		t.Fatal("maxRetries=1 should give up on the first failure")
	}
}

func TestBackoff_Clamped(t *testing.T) {
	if Backoff(-3) != BaseBackoff {
		t.Errorf("negative count should clamp to base, got %s", Backoff(-3))
	}
	if Backoff(1000) != Backoff(maxShift) {
		t.Error("large count should clamp to maxShift")
	}
	if Backoff(1000) <= 0 {
		t.Error("clamped backoff overflowed")
	}
}
