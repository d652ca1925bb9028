package http

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests to each host using a token bucket and tracks
// rate limit backoff state. The configured inter-request delay maps to a
// token refill rate of 1/delay requests per second.
type Pacer struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.RWMutex
	config       PacerConfig
}

// BackoffState tracks rate limit backoff for a host.
type BackoffState struct {
	// CurrentBackoff is the current backoff duration
	CurrentBackoff time.Duration
	// LastError is when the last rate limit error occurred
	LastError time.Time
	// ConsecutiveErrors is the count of consecutive rate limit errors
	ConsecutiveErrors int
}

// Backoff tuning for server-side rate limits.
const (
	// InitialRateLimitBackoff is the first backoff after a 429/503.
	InitialRateLimitBackoff = 1 * time.Second
	// MaxRateLimitBackoff caps the backoff growth.
	MaxRateLimitBackoff = 60 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for exponential backoff.
	RateLimitBackoffMultiplier = 2.0
	// BackoffCooldownPeriod is how long after the last error before resetting backoff.
	BackoffCooldownPeriod = 5 * time.Minute
)

// PacerConfig defines request pacing behavior.
type PacerConfig struct {
	// Delay is the minimum interval between requests to the same host.
	// Zero disables pacing.
	Delay time.Duration
	// EnableDynamicBackoff enables exponential backoff tracking when the
	// server answers 429/503.
	EnableDynamicBackoff bool
}

// DefaultPacerConfig returns the default pacing of one request per second,
// matching the site's tolerance for polite scraping.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		Delay:                1 * time.Second,
		EnableDynamicBackoff: true,
	}
}

// NewPacer creates a new pacer with the given configuration.
func NewPacer(cfg PacerConfig) *Pacer {
	return &Pacer{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// Wait blocks until the pacing interval allows a request to the given URL.
// Returns an error if the context is canceled.
func (p *Pacer) Wait(ctx context.Context, urlStr string) error {
	if p == nil || p.config.Delay <= 0 {
		return nil
	}

	limiter := p.getLimiter(urlStr)

	if !limiter.Allow() {
		reservation := limiter.Reserve()
		if !reservation.OK() {
			return fmt.Errorf("pacer: cannot reserve token")
		}

		select {
		case <-time.After(reservation.Delay()):
			return nil
		case <-ctx.Done():
			reservation.Cancel()
			return ctx.Err()
		}
	}

	return nil
}

// getLimiter returns the rate limiter for a given URL, creating one if necessary.
func (p *Pacer) getLimiter(urlStr string) *rate.Limiter {
	host := p.extractHost(urlStr)

	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[host]; ok {
		return limiter
	}

	// Token bucket: burst of 1, refill rate 1/delay
	limiter := rate.NewLimiter(rate.Every(p.config.Delay), 1)
	p.limiters[host] = limiter
	return limiter
}

// extractHost extracts the host from a URL string.
func (p *Pacer) extractHost(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

// RecordRateLimitError records a rate limit error for a host and updates
// backoff state. Call this when a 429/503 response is received.
// Returns the recommended backoff duration before retrying.
func (p *Pacer) RecordRateLimitError(urlStr string, retryAfter time.Duration) time.Duration {
	if p == nil || !p.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialRateLimitBackoff
	}

	host := p.extractHost(urlStr)

	p.mu.Lock()
	defer p.mu.Unlock()

	state, exists := p.backoffState[host]
	if !exists {
		state = &BackoffState{
			CurrentBackoff: InitialRateLimitBackoff,
			LastError:      time.Now(),
		}
		p.backoffState[host] = state
	}

	state.LastError = time.Now()
	state.ConsecutiveErrors++

	// 1s -> 2s -> 4s -> 8s -> ... up to the cap
	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * RateLimitBackoffMultiplier)
		if state.CurrentBackoff > MaxRateLimitBackoff {
			state.CurrentBackoff = MaxRateLimitBackoff
		}
	}

	// Honor a longer server-specified Retry-After
	effectiveBackoff := state.CurrentBackoff
	if retryAfter > effectiveBackoff {
		effectiveBackoff = retryAfter
		state.CurrentBackoff = retryAfter
	}

	return effectiveBackoff
}

// RecordSuccess records a successful request, potentially resetting backoff state.
func (p *Pacer) RecordSuccess(urlStr string) {
	if p == nil || !p.config.EnableDynamicBackoff {
		return
	}

	host := p.extractHost(urlStr)

	p.mu.Lock()
	defer p.mu.Unlock()

	state, exists := p.backoffState[host]
	if !exists {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod {
		delete(p.backoffState, host)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
	}
}

// GetBackoffState returns a copy of the current backoff state for a host.
// Returns nil if no backoff state exists.
func (p *Pacer) GetBackoffState(urlStr string) *BackoffState {
	if p == nil {
		return nil
	}

	host := p.extractHost(urlStr)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if state, ok := p.backoffState[host]; ok {
		cp := *state
		return &cp
	}
	return nil
}

// IsBackedOff returns true if the host is currently in a backoff state.
func (p *Pacer) IsBackedOff(urlStr string) bool {
	state := p.GetBackoffState(urlStr)
	if state == nil {
		return false
	}
	return time.Since(state.LastError) < state.CurrentBackoff
}

// WaitForBackoff waits for the current backoff period to expire.
// Returns immediately if not in backoff state.
func (p *Pacer) WaitForBackoff(ctx context.Context, urlStr string) error {
	state := p.GetBackoffState(urlStr)
	if state == nil {
		return nil
	}

	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	select {
	case <-time.After(remaining):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
