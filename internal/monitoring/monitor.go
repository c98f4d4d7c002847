// Package monitoring observes provider health and raises operator
// alerts. Health classification is reporting-only; call admission
// decisions belong to the resilience layer.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthState classifies a provider's recent responsiveness.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// MonitorConfig tunes one provider's health monitor.
type MonitorConfig struct {
	Provider string

	// ProbeURL, when set, is polled every ProbeInterval. When empty the
	// monitor relies purely on passively observed call latencies.
	ProbeURL      string
	ProbeInterval time.Duration

	// WindowSize bounds the rolling latency sample window. Default: 50.
	WindowSize int

	// DegradedLatency and UnhealthyLatency are the average-latency
	// thresholds for classification. Defaults: 1s, 3s.
	DegradedLatency  time.Duration
	UnhealthyLatency time.Duration

	// ErrorWindow bounds the error history kept for reporting.
	// Default: 5m.
	ErrorWindow time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.DegradedLatency <= 0 {
		c.DegradedLatency = time.Second
	}
	if c.UnhealthyLatency <= 0 {
		c.UnhealthyLatency = 3 * time.Second
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 5 * time.Minute
	}
	return c
}

// Snapshot is a read-only copy of a monitor's state for status
// surfaces.
type Snapshot struct {
	Provider     string        `json:"provider"`
	State        HealthState   `json:"state"`
	AvgLatency   time.Duration `json:"avg_latency"`
	Samples      int           `json:"samples"`
	RecentErrors int           `json:"recent_errors"`
	LastError    string        `json:"last_error,omitempty"`
}

// Monitor tracks one provider's latency window and error history.
type Monitor struct {
	cfg    MonitorConfig
	client *http.Client

	mu        sync.Mutex
	latencies []time.Duration
	errors    []time.Time
	lastError string

	nowFunc func() time.Time
}

// NewMonitor creates a monitor for one provider.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		client:  &http.Client{Timeout: 10 * time.Second},
		nowFunc: time.Now,
	}
}

// Observe records one call's latency and error outcome. Wired into the
// scheduler's latency hook.
func (m *Monitor) Observe(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > m.cfg.WindowSize {
		m.latencies = m.latencies[len(m.latencies)-m.cfg.WindowSize:]
	}
	if err != nil {
		m.errors = append(m.errors, m.nowFunc())
		m.lastError = err.Error()
		m.pruneErrorsLocked()
	}
}

// Health classifies the provider by average latency over the window.
func (m *Monitor) Health() HealthState {
	return m.Status().State
}

// Status returns a point-in-time snapshot.
func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneErrorsLocked()

	snap := Snapshot{
		Provider:     m.cfg.Provider,
		State:        HealthUnknown,
		Samples:      len(m.latencies),
		RecentErrors: len(m.errors),
		LastError:    m.lastError,
	}
	if len(m.latencies) == 0 {
		return snap
	}

	var total time.Duration
	for _, d := range m.latencies {
		total += d
	}
	snap.AvgLatency = total / time.Duration(len(m.latencies))

	switch {
	case snap.AvgLatency >= m.cfg.UnhealthyLatency:
		snap.State = HealthUnhealthy
	case snap.AvgLatency >= m.cfg.DegradedLatency:
		snap.State = HealthDegraded
	default:
		snap.State = HealthHealthy
	}
	return snap
}

// Run polls the probe endpoint until ctx is cancelled. No-op without a
// probe URL.
func (m *Monitor) Run(ctx context.Context) {
	if m.cfg.ProbeURL == "" {
		return
	}

	log := zap.L().With(
		zap.String("component", "monitoring.probe"),
		zap.String("provider", m.cfg.Provider),
	)
	log.Info("starting health probe", zap.Duration("interval", m.cfg.ProbeInterval))

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health probe stopped")
			return
		case <-ticker.C:
			m.probe(ctx, log)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, log *zap.Logger) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ProbeURL, nil)
	if err != nil {
		log.Error("building probe request", zap.Error(err))
		return
	}

	start := m.nowFunc()
	resp, err := m.client.Do(req)
	latency := m.nowFunc().Sub(start)
	if err == nil {
		resp.Body.Close() //nolint:errcheck
		if resp.StatusCode >= 400 {
			err = probeStatusError(resp.StatusCode)
		}
	}
	m.Observe(latency, err)

	if err != nil {
		log.Warn("health probe failed",
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
}

type probeStatusError int

func (e probeStatusError) Error() string {
	return fmt.Sprintf("probe returned status %d", int(e))
}

// pruneErrorsLocked drops error timestamps outside the reporting
// window. Caller must hold m.mu.
func (m *Monitor) pruneErrorsLocked() {
	cutoff := m.nowFunc().Add(-m.cfg.ErrorWindow)
	i := 0
	for i < len(m.errors) && m.errors[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.errors = append([]time.Time(nil), m.errors[i:]...)
	}
}
