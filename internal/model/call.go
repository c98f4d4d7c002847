package model

import "time"

// RequestContext describes one call submitted to a provider scheduler.
// It is created per call and discarded after resolution.
type RequestContext struct {
	Provider  string            `json:"provider"`
	Operation string            `json:"operation"`
	Priority  Priority          `json:"priority"`
	Retryable bool              `json:"retryable"`
	Cost      float64           `json:"cost,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CallOutcome is the classified result of a provider call after the
// scheduler has applied its rate/budget/circuit/timeout/retry policy.
type CallOutcome struct {
	Success        bool          `json:"success"`
	Payload        any           `json:"payload,omitempty"`
	Error          string        `json:"error,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	StatusCode     int           `json:"status_code,omitempty"`
	Latency        time.Duration `json:"latency_ms"`
	CostConsumed   float64       `json:"cost_consumed,omitempty"`
	RemainingQuota float64       `json:"remaining_quota,omitempty"`
	Attempts       int           `json:"attempts"`
}
