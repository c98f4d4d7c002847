package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/catalog-enricher/internal/monitoring"
	"github.com/sells-group/catalog-enricher/internal/resilience"
)

// ProviderStatus is the per-provider slice of the status surface.
type ProviderStatus struct {
	Provider         string                 `json:"provider"`
	Health           monitoring.HealthState `json:"health"`
	Circuit          string                 `json:"circuit"`
	RateUsed         int                    `json:"rate_used"`
	RateMax          int                    `json:"rate_max"`
	QueueLength      int                    `json:"queue_length"`
	CreditsRemaining float64                `json:"credits_remaining,omitempty"`
	CreditsLow       bool                   `json:"credits_low,omitempty"`
	AvgLatencyMS     int64                  `json:"avg_latency_ms"`
	RecentErrors     int                    `json:"recent_errors"`
}

// StatusBoard couples the scheduler registry with per-provider health
// monitors and the alerter. It is the single surface the CLI and the
// HTTP server read operational state from.
type StatusBoard struct {
	registry *resilience.Registry
	alerter  *monitoring.Alerter

	mu       sync.RWMutex
	monitors map[string]*monitoring.Monitor
}

// NewStatusBoard creates an empty board over a registry.
func NewStatusBoard(registry *resilience.Registry, alerter *monitoring.Alerter) *StatusBoard {
	return &StatusBoard{
		registry: registry,
		alerter:  alerter,
		monitors: make(map[string]*monitoring.Monitor),
	}
}

// RegisterProvider registers a scheduler for the config, attaches a
// health monitor to its latency stream, and starts the probe loop.
func (b *StatusBoard) RegisterProvider(ctx context.Context, cfg resilience.ServiceConfig) *resilience.Scheduler {
	sched := b.registry.Register(ctx, cfg)

	mon := monitoring.NewMonitor(monitoring.MonitorConfig{
		Provider:      cfg.Name,
		ProbeURL:      cfg.ProbeURL,
		ProbeInterval: cfg.ProbeInterval,
	})
	sched.OnLatency(mon.Observe)

	b.mu.Lock()
	b.monitors[cfg.Name] = mon
	b.mu.Unlock()

	go mon.Run(ctx)
	return sched
}

// Alerter exposes the underlying alerter for the serving layer.
func (b *StatusBoard) Alerter() *monitoring.Alerter { return b.alerter }

// Monitor returns the health monitor for a provider, if registered.
func (b *StatusBoard) Monitor(name string) *monitoring.Monitor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.monitors[name]
}

// Statuses returns one entry per registered provider, sorted by name.
func (b *StatusBoard) Statuses() []ProviderStatus {
	names := b.registry.Names()
	sort.Strings(names)

	out := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		sched := b.registry.Get(name)
		if sched == nil {
			continue
		}
		ps := ProviderStatus{
			Provider: name,
			Health:   monitoring.HealthUnknown,
			Circuit:  sched.CircuitState().String(),
		}
		ps.RateUsed, ps.RateMax = sched.RateUsage()
		ps.QueueLength = sched.QueueLength()
		if balance, low, ok := sched.Credits(); ok {
			ps.CreditsRemaining = balance
			ps.CreditsLow = low
		}
		if mon := b.Monitor(name); mon != nil {
			snap := mon.Status()
			ps.Health = snap.State
			ps.AvgLatencyMS = snap.AvgLatency.Milliseconds()
			ps.RecentErrors = snap.RecentErrors
		}
		out = append(out, ps)
	}
	return out
}

// SystemHealth is the worst provider health, or unknown with no
// providers registered.
func (b *StatusBoard) SystemHealth() monitoring.HealthState {
	worst := monitoring.HealthUnknown
	for _, ps := range b.Statuses() {
		if rankHealth(ps.Health) > rankHealth(worst) {
			worst = ps.Health
		}
	}
	return worst
}

func rankHealth(h monitoring.HealthState) int {
	switch h {
	case monitoring.HealthHealthy:
		return 1
	case monitoring.HealthDegraded:
		return 2
	case monitoring.HealthUnhealthy:
		return 3
	default:
		return 0
	}
}

// Sweep reconciles alerts against current provider state: open circuits,
// low budgets, and unhealthy providers raise; recovered ones resolve.
func (b *StatusBoard) Sweep(ctx context.Context) {
	if b.alerter == nil {
		return
	}
	for _, ps := range b.Statuses() {
		if ps.Circuit == resilience.CircuitOpen.String() {
			b.alerter.Raise(ctx, monitoring.AlertCircuitOpen, "high", ps.Provider,
				"circuit breaker open", map[string]any{"queue_length": ps.QueueLength})
		} else {
			b.alerter.Resolve(ps.Provider, monitoring.AlertCircuitOpen)
		}

		if ps.CreditsLow {
			b.alerter.Raise(ctx, monitoring.AlertBudgetLow, "medium", ps.Provider,
				"provider credit balance below reserve", map[string]any{"credits_remaining": ps.CreditsRemaining})
		} else {
			b.alerter.Resolve(ps.Provider, monitoring.AlertBudgetLow)
		}

		if ps.Health == monitoring.HealthUnhealthy {
			b.alerter.Raise(ctx, monitoring.AlertProviderUnhealthy, "high", ps.Provider,
				"provider latency above unhealthy threshold", map[string]any{
					"avg_latency_ms": ps.AvgLatencyMS,
					"recent_errors":  ps.RecentErrors,
				})
		} else {
			b.alerter.Resolve(ps.Provider, monitoring.AlertProviderUnhealthy)
		}
	}
}

// Alerts is the pipeline-facing alert surface for non-provider alerts.
type Alerts struct {
	alerter *monitoring.Alerter
}

// NewAlerts wraps an alerter.
func NewAlerts(alerter *monitoring.Alerter) *Alerts {
	return &Alerts{alerter: alerter}
}

// ReviewBacklog raises the review backlog alert with the current depth.
func (a *Alerts) ReviewBacklog(ctx context.Context, depth int) {
	if a == nil || a.alerter == nil {
		return
	}
	a.alerter.Raise(ctx, monitoring.AlertReviewBacklog, "medium", "review",
		"manual review backlog above threshold", map[string]any{"depth": depth})
}
