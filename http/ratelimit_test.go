package http

import (
	"context"
	"testing"
	"time"
)

func TestPacer_NoDelayNoWait(t *testing.T) {
	p := NewPacer(PacerConfig{})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background(), "https://example.com/a"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("waits took %v with pacing disabled", elapsed)
	}
}

func TestPacer_SpacesRequests(t *testing.T) {
	p := NewPacer(PacerConfig{Delay: 50 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background(), "https://example.com/a"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	// First request is immediate (burst 1), the next two each wait ~50ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 requests took %v, want >= ~100ms", elapsed)
	}
}

func TestPacer_PerHostLimiters(t *testing.T) {
	p := NewPacer(PacerConfig{Delay: 200 * time.Millisecond})

	start := time.Now()
	if err := p.Wait(context.Background(), "https://a.example.com/x"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := p.Wait(context.Background(), "https://b.example.com/x"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Different hosts don't share the bucket
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("cross-host waits took %v", elapsed)
	}
}

func TestPacer_WaitContextCanceled(t *testing.T) {
	p := NewPacer(PacerConfig{Delay: time.Minute})

	// Drain the burst token
	if err := p.Wait(context.Background(), "https://example.com/a"); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx, "https://example.com/a"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPacer_BackoffGrowth(t *testing.T) {
	p := NewPacer(PacerConfig{EnableDynamicBackoff: true})
	url := "https://example.com/a"

	if got := p.RecordRateLimitError(url, 0); got != InitialRateLimitBackoff {
		t.Errorf("first backoff = %v, want %v", got, InitialRateLimitBackoff)
	}
	if got := p.RecordRateLimitError(url, 0); got != 2*InitialRateLimitBackoff {
		t.Errorf("second backoff = %v, want %v", got, 2*InitialRateLimitBackoff)
	}

	state := p.GetBackoffState(url)
	if state == nil {
		t.Fatal("expected backoff state")
	}
	if state.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", state.ConsecutiveErrors)
	}
	if !p.IsBackedOff(url) {
		t.Error("host should be backed off")
	}
}

func TestPacer_BackoffCapped(t *testing.T) {
	p := NewPacer(PacerConfig{EnableDynamicBackoff: true})
	url := "https://example.com/a"

	var got time.Duration
	for i := 0; i < 12; i++ {
		got = p.RecordRateLimitError(url, 0)
	}
	if got != MaxRateLimitBackoff {
		t.Errorf("backoff = %v, want cap %v", got, MaxRateLimitBackoff)
	}
}

func TestPacer_RetryAfterOverridesBackoff(t *testing.T) {
	p := NewPacer(PacerConfig{EnableDynamicBackoff: true})
	url := "https://example.com/a"

	if got := p.RecordRateLimitError(url, 90*time.Second); got != 90*time.Second {
		t.Errorf("backoff = %v, want server's 90s", got)
	}
}

func TestPacer_RecordSuccessRecovers(t *testing.T) {
	p := NewPacer(PacerConfig{EnableDynamicBackoff: true})
	url := "https://example.com/a"

	p.RecordRateLimitError(url, 0)
	p.RecordRateLimitError(url, 0)
	p.RecordSuccess(url)

	state := p.GetBackoffState(url)
	if state == nil {
		t.Fatal("expected backoff state")
	}
	if state.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", state.ConsecutiveErrors)
	}
}

func TestPacer_DynamicBackoffDisabled(t *testing.T) {
	p := NewPacer(PacerConfig{})
	url := "https://example.com/a"

	if got := p.RecordRateLimitError(url, 0); got != InitialRateLimitBackoff {
		t.Errorf("backoff = %v, want %v", got, InitialRateLimitBackoff)
	}
	if got := p.RecordRateLimitError(url, 9*time.Second); got != 9*time.Second {
		t.Errorf("backoff = %v, want server's 9s", got)
	}
	if state := p.GetBackoffState(url); state != nil {
		t.Errorf("state = %+v, want none when disabled", state)
	}
}

func TestPacer_WaitForBackoffNoState(t *testing.T) {
	p := NewPacer(PacerConfig{EnableDynamicBackoff: true})

	start := time.Now()
	if err := p.WaitForBackoff(context.Background(), "https://example.com/a"); err != nil {
		t.Fatalf("WaitForBackoff: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("WaitForBackoff took %v without backoff state", elapsed)
	}
}

func TestPacer_WaitForBackoffContextCanceled(t *testing.T) {
	p := NewPacer(PacerConfig{EnableDynamicBackoff: true})
	url := "https://example.com/a"

	p.RecordRateLimitError(url, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := p.WaitForBackoff(ctx, url); err == nil {
		t.Fatal("expected context error")
	}
}
