package resilience

import (
	"sync"
	"time"
)

// burstWindow is the fixed sub-window used for the optional burst cap.
const burstWindow = time.Second

// RateLimiterConfig controls sliding-window admission for one provider.
type RateLimiterConfig struct {
	// MaxCalls is the admission cap inside Window. Default: 60.
	MaxCalls int

	// Window is the sliding window length. Default: 60s.
	Window time.Duration

	// BurstMax optionally caps calls inside any one-second sub-window.
	// Zero disables the burst check.
	BurstMax int
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxCalls: 60,
		Window:   time.Minute,
	}
}

// Admission is the result of a rate limiter check.
type Admission struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter admits at most MaxCalls calls in any sliding interval of
// length Window, with an optional stricter one-second burst cap. Each
// provider owns exactly one instance; the mutex only protects the
// read-only snapshots taken by the observability surface.
type RateLimiter struct {
	cfg   RateLimiterConfig
	mu    sync.Mutex
	calls []time.Time

	nowFunc func() time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Allow prunes expired timestamps and either admits the call (recording
// it) or rejects it with a computed retry-after delay.
func (rl *RateLimiter) Allow() Admission {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	rl.pruneLocked(now)

	// Burst sub-window is the stricter check; evaluate it first so the
	// shortest wait is reported.
	if rl.cfg.BurstMax > 0 {
		burstStart := now.Add(-burstWindow)
		inBurst := 0
		oldest := time.Time{}
		for _, ts := range rl.calls {
			if ts.After(burstStart) {
				if oldest.IsZero() {
					oldest = ts
				}
				inBurst++
			}
		}
		if inBurst >= rl.cfg.BurstMax {
			return Admission{RetryAfter: oldest.Add(burstWindow).Sub(now)}
		}
	}

	if len(rl.calls) >= rl.cfg.MaxCalls {
		// The oldest call in the window frees a slot when it expires.
		return Admission{RetryAfter: rl.calls[0].Add(rl.cfg.Window).Sub(now)}
	}

	rl.calls = append(rl.calls, now)
	return Admission{Allowed: true}
}

// Usage returns the current window occupancy for observability.
func (rl *RateLimiter) Usage() (used, max int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked(rl.nowFunc())
	return len(rl.calls), rl.cfg.MaxCalls
}

// pruneLocked drops call timestamps outside the window. Caller must
// hold rl.mu.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-rl.cfg.Window)
	i := 0
	for i < len(rl.calls) && !rl.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.calls = append([]time.Time(nil), rl.calls[i:]...)
	}
}
