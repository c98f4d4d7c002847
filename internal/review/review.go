// Package review holds items that exhausted their retries or hit a
// non-retryable failure, annotated with operator recommendations and an
// effort estimate.
package review

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
)

// baseEffortMinutes is the floor cost of touching any item by hand.
const baseEffortMinutes = 15

// Entry is one item awaiting manual attention. Fields is a snapshot of
// the data gathered before escalation, so reviewers see what is already
// known, not just what failed.
type Entry struct {
	ItemID        string          `json:"item_id"`
	RawInput      string          `json:"raw_input"`
	Identifier    string          `json:"identifier"`
	Priority      model.Priority  `json:"priority"`
	Fields        map[string]any  `json:"fields,omitempty"`
	MissingFields []string        `json:"missing_fields,omitempty"`
	Recommend     []string        `json:"recommendations"`
	EffortMinutes int             `json:"effort_minutes"`
	Attempts      int             `json:"attempts"`
	Errors        []faults.Record `json:"errors,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// recommendations maps an error category to its operator playbook line.
var recommendations = map[faults.Category]string{
	faults.CategoryParsing:         "reformat the raw input or manually enter the model number",
	faults.CategoryDataQuality:     "search an alternate source for the missing attributes",
	faults.CategoryExternalService: "wait for the provider to recover, then retry manually",
	faults.CategoryValidation:      "correct the flagged field values and resubmit",
	faults.CategoryNetwork:         "check outbound connectivity, then retry manually",
	faults.CategoryAuth:            "rotate the provider API key in configuration",
	faults.CategoryTimeout:         "retry manually during an off-peak window",
	faults.CategoryConfig:          "fix the named configuration value and restart",
}

// missingFieldHints adds field-specific guidance on top of the
// category playbook.
var missingFieldHints = map[string]string{
	"weight":     "search an alternate source for shipping weight",
	"dimensions": "search an alternate source for package dimensions",
	"image_url":  "upload a qualifying product image",
}

// RequiredFields is the default field set checked for completeness.
var RequiredFields = []string{"brand", "model", "weight", "dimensions", "image_url"}

// BuildEntry derives the review entry for an item: missing required
// fields, category-keyed recommendations, and the effort estimate.
func BuildEntry(item *model.CandidateItem, required []string, now time.Time) Entry {
	if len(required) == 0 {
		required = RequiredFields
	}

	var missing []string
	for _, f := range required {
		v, ok := item.Fields[f]
		if !ok || v == nil || v == "" {
			missing = append(missing, f)
		}
	}

	// Copy the field snapshot; the item keeps mutating after escalation.
	fields := make(map[string]any, len(item.Fields))
	for k, v := range item.Fields {
		fields[k] = v
	}

	return Entry{
		ItemID:        item.ID,
		RawInput:      item.RawInput,
		Identifier:    item.Identifier,
		Fields:        fields,
		MissingFields: missing,
		Recommend:     recommend(item.Errors, missing),
		EffortMinutes: EstimateEffort(item.Errors, model.PriorityMedium),
		Attempts:      item.Attempts,
		Errors:        item.Errors,
		Priority:      model.PriorityMedium,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// recommend collects one playbook line per distinct error category plus
// hints for well-known missing fields.
func recommend(errs []faults.Record, missing []string) []string {
	var out []string
	seen := make(map[faults.Category]bool)
	for _, rec := range errs {
		if seen[rec.Category] {
			continue
		}
		seen[rec.Category] = true
		if line, ok := recommendations[rec.Category]; ok {
			out = append(out, line)
		}
	}
	for _, f := range missing {
		if hint, ok := missingFieldHints[f]; ok {
			out = append(out, hint)
		}
	}
	if len(out) == 0 {
		out = append(out, "inspect the item history and resubmit")
	}
	return out
}

// EstimateEffort predicts manual handling time in minutes from the
// error mix, scaled by priority. High-priority items get experienced
// reviewers, low-priority items queue behind everything else.
func EstimateEffort(errs []faults.Record, priority model.Priority) int {
	severe, medium := 0, 0
	for _, rec := range errs {
		switch rec.Severity {
		case faults.SeverityCritical, faults.SeverityHigh:
			severe++
		case faults.SeverityMedium:
			medium++
		}
	}

	minutes := float64(baseEffortMinutes + 20*severe + 10*medium)
	switch priority {
	case model.PriorityHigh:
		minutes *= 0.7
	case model.PriorityLow:
		minutes *= 1.5
	}
	if minutes < 5 {
		minutes = 5
	}
	return int(minutes)
}

// Queue is the in-memory review queue, keyed by item id. Re-adding an
// existing id updates the entry in place, preserving its creation time.
type Queue struct {
	mu      sync.RWMutex
	entries map[string]Entry

	nowFunc func() time.Time
}

// NewQueue creates an empty review queue.
func NewQueue() *Queue {
	return &Queue{
		entries: make(map[string]Entry),
		nowFunc: time.Now,
	}
}

// Add builds and upserts the entry for an item at the given priority.
func (q *Queue) Add(item *model.CandidateItem, priority model.Priority, required []string) Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFunc()
	entry := BuildEntry(item, required, now)
	entry.Priority = priority
	entry.EffortMinutes = EstimateEffort(item.Errors, priority)

	if existing, ok := q.entries[item.ID]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	q.entries[item.ID] = entry

	zap.L().Info("item queued for manual review",
		zap.String("item_id", item.ID),
		zap.String("identifier", item.Identifier),
		zap.String("priority", priority.String()),
		zap.Int("effort_minutes", entry.EffortMinutes),
		zap.Strings("missing_fields", entry.MissingFields),
	)
	return entry
}

// Get returns the entry for an item id.
func (q *Queue) Get(itemID string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[itemID]
	return e, ok
}

// Remove deletes an entry once the operator has resolved it.
func (q *Queue) Remove(itemID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[itemID]; !ok {
		return false
	}
	delete(q.entries, itemID)
	return true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// List returns entries ordered by priority (high first), then by
// creation time.
func (q *Queue) List() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TotalEffort sums the estimated minutes across the queue, for the
// operator dashboard.
func (q *Queue) TotalEffort() (int, string) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	total := 0
	for _, e := range q.entries {
		total += e.EffortMinutes
	}
	return total, fmt.Sprintf("%dh%02dm", total/60, total%60)
}
