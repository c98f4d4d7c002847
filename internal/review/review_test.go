package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
)

func newReviewItem() *model.CandidateItem {
	item := model.NewCandidateItem("HP CF259X")
	item.Identifier = "CF259X"
	item.Fields = map[string]any{
		"brand": "HP",
		"model": "CF259X",
	}
	return item
}

func TestEstimateEffort(t *testing.T) {
	critical := faults.NewRecord(faults.ReasonAuthInvalid, "key revoked", "fetch")
	high := faults.NewRecord(faults.ReasonParseFailure, "garbled input", "parse")
	medium := faults.NewRecord(faults.ReasonTimeout, "deadline", "fetch")

	tests := []struct {
		name     string
		errs     []faults.Record
		priority model.Priority
		want     int
	}{
		{"no errors medium priority", nil, model.PriorityMedium, 15},
		{"one critical", []faults.Record{critical}, model.PriorityMedium, 35},
		{"critical plus high plus medium", []faults.Record{critical, high, medium}, model.PriorityMedium, 65},
		{"high priority discount", []faults.Record{critical}, model.PriorityHigh, 24},
		{"low priority surcharge", []faults.Record{medium}, model.PriorityLow, 37},
		{"high priority no errors", nil, model.PriorityHigh, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateEffort(tt.errs, tt.priority))
		})
	}
}

func TestBuildEntry_MissingFieldsAndRecommendations(t *testing.T) {
	item := newReviewItem()
	item.Attempts = 2
	item.RecordError(faults.ReasonParseFailure, "garbled", "parse")
	item.RecordError(faults.ReasonSchemaMismatch, "layout changed", "parse")
	item.RecordError(faults.ReasonMissingField, "no weight", "extract")

	entry := BuildEntry(item, nil, time.Now())

	assert.Equal(t, item.ID, entry.ItemID)
	assert.Equal(t, "HP CF259X", entry.RawInput)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, []string{"weight", "dimensions", "image_url"}, entry.MissingFields)

	// The entry carries what was already gathered, as a snapshot.
	assert.Equal(t, map[string]any{"brand": "HP", "model": "CF259X"}, entry.Fields)
	item.Fields["weight"] = "0.9kg"
	assert.NotContains(t, entry.Fields, "weight")

	// One playbook line per distinct category, not per error.
	assert.Contains(t, entry.Recommend, "reformat the raw input or manually enter the model number")
	assert.Contains(t, entry.Recommend, "search an alternate source for the missing attributes")
	assert.Contains(t, entry.Recommend, "upload a qualifying product image")
	parsingLines := 0
	for _, r := range entry.Recommend {
		if r == "reformat the raw input or manually enter the model number" {
			parsingLines++
		}
	}
	assert.Equal(t, 1, parsingLines, "categories deduplicated")
}

func TestBuildEntry_FallbackRecommendation(t *testing.T) {
	item := newReviewItem()
	item.Fields["weight"] = "1.2kg"
	item.Fields["dimensions"] = "10x10x30cm"
	item.Fields["image_url"] = "https://example.com/a.jpg"

	entry := BuildEntry(item, nil, time.Now())
	assert.Empty(t, entry.MissingFields)
	require.Len(t, entry.Recommend, 1)
	assert.Equal(t, "inspect the item history and resubmit", entry.Recommend[0])
}

func TestQueue_UpsertByItemID(t *testing.T) {
	q := NewQueue()
	item := newReviewItem()
	item.RecordError(faults.ReasonTimeout, "deadline", "fetch")

	first := q.Add(item, model.PriorityMedium, nil)
	assert.Equal(t, 1, q.Len())

	// Re-adding the same item updates in place and keeps CreatedAt.
	q.nowFunc = func() time.Time { return first.CreatedAt.Add(time.Hour) }
	item.RecordError(faults.ReasonAuthInvalid, "key revoked", "fetch")
	second := q.Add(item, model.PriorityHigh, nil)

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, model.PriorityHigh, second.Priority)

	got, ok := q.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, model.PriorityHigh, got.Priority)
}

func TestQueue_ListOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	q.nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	lowItem := newReviewItem()
	oldMedium := newReviewItem()
	newMedium := newReviewItem()
	highItem := newReviewItem()

	q.Add(lowItem, model.PriorityLow, nil)
	q.Add(oldMedium, model.PriorityMedium, nil)
	q.Add(newMedium, model.PriorityMedium, nil)
	q.Add(highItem, model.PriorityHigh, nil)

	list := q.List()
	require.Len(t, list, 4)
	assert.Equal(t, highItem.ID, list[0].ItemID)
	assert.Equal(t, oldMedium.ID, list[1].ItemID)
	assert.Equal(t, newMedium.ID, list[2].ItemID)
	assert.Equal(t, lowItem.ID, list[3].ItemID)
}

func TestQueue_RemoveAndTotalEffort(t *testing.T) {
	q := NewQueue()
	a := newReviewItem()
	a.RecordError(faults.ReasonAuthInvalid, "key revoked", "fetch")
	b := newReviewItem()

	q.Add(a, model.PriorityMedium, nil) // 15 + 20 = 35
	q.Add(b, model.PriorityMedium, nil) // 15

	total, human := q.TotalEffort()
	assert.Equal(t, 50, total)
	assert.Equal(t, "0h50m", human)

	assert.True(t, q.Remove(a.ID))
	assert.False(t, q.Remove(a.ID))
	assert.Equal(t, 1, q.Len())
}
