package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCircuitOpen       AlertType = "circuit_open"
	AlertProviderUnhealthy AlertType = "provider_unhealthy"
	AlertBudgetLow         AlertType = "budget_low"
	AlertReviewBacklog     AlertType = "review_backlog"
)

// Alert is one operator-facing incident with its lifecycle timestamps.
type Alert struct {
	ID             string         `json:"id"`
	Type           AlertType      `json:"type"`
	Severity       string         `json:"severity"`
	Provider       string         `json:"provider,omitempty"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

type alertKey struct {
	provider string
	typ      AlertType
}

// Alerter manages alert lifecycle and webhook delivery. At most one
// unresolved alert exists per (provider, type) pair; raising a
// duplicate refreshes the existing alert's details instead of creating
// a new one.
type Alerter struct {
	webhookURL string
	client     *http.Client

	mu     sync.Mutex
	active map[alertKey]*Alert

	nowFunc func() time.Time
}

// NewAlerter creates an alerter. webhookURL may be empty to disable
// delivery.
func NewAlerter(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		active:     make(map[alertKey]*Alert),
		nowFunc:    time.Now,
	}
}

// Raise opens (or refreshes) the alert for (provider, type). The
// returned bool is true when a new alert was created.
func (a *Alerter) Raise(ctx context.Context, typ AlertType, severity, provider, message string, details map[string]any) (*Alert, bool) {
	a.mu.Lock()
	key := alertKey{provider: provider, typ: typ}
	if existing, ok := a.active[key]; ok {
		existing.Message = message
		existing.Details = details
		out := *existing
		a.mu.Unlock()
		return &out, false
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		Provider:  provider,
		Message:   message,
		Details:   details,
		CreatedAt: a.nowFunc().UTC(),
	}
	a.active[key] = alert
	out := *alert
	a.mu.Unlock()

	zap.L().Warn("alert raised",
		zap.String("alert_id", out.ID),
		zap.String("type", string(typ)),
		zap.String("severity", severity),
		zap.String("provider", provider),
		zap.String("message", message),
	)
	if err := a.sendWebhook(ctx, out); err != nil {
		zap.L().Error("failed to deliver alert webhook",
			zap.String("alert_id", out.ID),
			zap.Error(err),
		)
	}
	return &out, true
}

// Acknowledge stamps the alert as seen by an operator.
func (a *Alerter) Acknowledge(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, alert := range a.active {
		if alert.ID == id && alert.AcknowledgedAt == nil {
			now := a.nowFunc().UTC()
			alert.AcknowledgedAt = &now
			return true
		}
	}
	return false
}

// Resolve closes the unresolved alert for (provider, type), freeing the
// pair for future alerts.
func (a *Alerter) Resolve(provider string, typ AlertType) bool {
	a.mu.Lock()
	key := alertKey{provider: provider, typ: typ}
	alert, ok := a.active[key]
	if !ok {
		a.mu.Unlock()
		return false
	}
	now := a.nowFunc().UTC()
	alert.ResolvedAt = &now
	delete(a.active, key)
	id := alert.ID
	a.mu.Unlock()

	zap.L().Info("alert resolved",
		zap.String("alert_id", id),
		zap.String("type", string(typ)),
		zap.String("provider", provider),
	)
	return true
}

// Unresolved returns open alerts, oldest first.
func (a *Alerter) Unresolved() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert, 0, len(a.active))
	for _, alert := range a.active {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	if a.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
