// Package model defines the shared domain types for the enrichment core.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/catalog-enricher/internal/faults"
)

// ItemStatus represents the terminal or in-flight state of a candidate item.
type ItemStatus string

const (
	ItemStatusPending     ItemStatus = "pending"
	ItemStatusEnriching   ItemStatus = "enriching"
	ItemStatusPublished   ItemStatus = "published"
	ItemStatusNeedsReview ItemStatus = "needs_review"
	ItemStatusFailed      ItemStatus = "failed"
)

// Terminal reports whether the status is one of the three end states.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusPublished, ItemStatusNeedsReview, ItemStatusFailed:
		return true
	}
	return false
}

// Priority orders queued work. High is serviced before medium, medium
// before low; ties break FIFO by enqueue time.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a config string to a Priority. Unknown values
// default to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// CandidateItem is one catalog record moving through the enrichment
// pipeline. Attempts is monotone non-decreasing; Errors accumulates one
// Record per recorded failure.
type CandidateItem struct {
	ID          string          `json:"id"`
	RawInput    string          `json:"raw_input"`
	Identifier  string          `json:"identifier"`
	Fields      map[string]any  `json:"fields,omitempty"`
	Attempts    int             `json:"attempts"`
	Errors      []faults.Record `json:"errors,omitempty"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	Status      ItemStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewCandidateItem creates a pending item from raw input.
func NewCandidateItem(rawInput string) *CandidateItem {
	now := time.Now().UTC()
	return &CandidateItem{
		ID:        uuid.NewString(),
		RawInput:  rawInput,
		Fields:    make(map[string]any),
		Status:    ItemStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecordError classifies a failure reason, attaches the resulting record
// to the item, and returns it.
func (c *CandidateItem) RecordError(reason faults.Reason, message, stage string) faults.Record {
	rec := faults.NewRecord(reason, message, stage)
	c.Errors = append(c.Errors, rec)
	c.UpdatedAt = time.Now().UTC()
	return rec
}

// HasCritical reports whether any attached error record is critical.
func (c *CandidateItem) HasCritical() bool {
	for _, r := range c.Errors {
		if r.Severity == faults.SeverityCritical {
			return true
		}
	}
	return false
}
