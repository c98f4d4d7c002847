package resilience

import (
	"time"
)

// ServiceConfig is the immutable registration record for one provider
// endpoint: admission, breaker, budget, timeout, and retry parameters,
// plus the health probe target.
type ServiceConfig struct {
	// Name identifies the provider (e.g. "search", "extract", "complete").
	Name string

	// Tier is the provider's priority tier for reporting. Lower is more
	// important.
	Tier int

	RateLimit RateLimiterConfig
	Circuit   CircuitBreakerConfig

	// Budget is nil for unmetered providers.
	Budget *BudgetConfig

	// Timeout bounds a single provider call. Once a call has started it
	// runs to this timeout and cannot be interrupted early. Default: 30s.
	Timeout time.Duration

	// MaxRetries is the number of automatic retries the scheduler applies
	// to a retryable execution failure. Default: 2.
	MaxRetries int

	// InitialBackoff, MaxBackoff, Multiplier, and JitterFraction shape
	// the retry delay: min(MaxBackoff, InitialBackoff × Multiplier^n)
	// ± JitterFraction. Defaults: 500ms, 30s, 2.0, 0.25.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64

	// MaxAdmissionWait bounds how long the worker waits out a rate or
	// budget rejection before surfacing it as an outcome. Default: 10s.
	MaxAdmissionWait time.Duration

	// ProbeURL and ProbeInterval configure the health monitor for this
	// provider. Empty ProbeURL means passive latency observation only.
	ProbeURL      string
	ProbeInterval time.Duration
}

// withDefaults fills zero values with scheduler defaults.
func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	} else if c.JitterFraction == 0 {
		c.JitterFraction = 0.25
	}
	if c.MaxAdmissionWait <= 0 {
		c.MaxAdmissionWait = 10 * time.Second
	}
	return c
}
