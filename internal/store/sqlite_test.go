package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/review"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestSQLiteStore_ItemRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item := model.NewCandidateItem("HP CF259X")
	item.Identifier = "CF259X"
	item.Fields = map[string]any{"brand": "HP"}
	item.RecordError(faults.ReasonTimeout, "deadline exceeded", "fetch")

	require.NoError(t, s.UpsertItem(ctx, item))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "HP CF259X", got.RawInput)
	assert.Equal(t, "CF259X", got.Identifier)
	assert.Equal(t, "HP", got.Fields["brand"])
	require.Len(t, got.Errors, 1)
	assert.Equal(t, faults.ReasonTimeout, got.Errors[0].Reason)
	assert.Equal(t, model.ItemStatusPending, got.Status)
}

func TestSQLiteStore_UpsertItemUpdatesInPlace(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item := model.NewCandidateItem("HP CF259X")
	require.NoError(t, s.UpsertItem(ctx, item))

	item.Attempts = 2
	next := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	item.NextRetryAt = &next
	item.Status = model.ItemStatusEnriching
	require.NoError(t, s.UpsertItem(ctx, item))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, model.ItemStatusEnriching, got.Status)

	items, err := s.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1, "upsert must not duplicate")
}

func TestSQLiteStore_GetItemNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetItem(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_ListItemsByStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	published := model.NewCandidateItem("a")
	published.Status = model.ItemStatusPublished
	pending := model.NewCandidateItem("b")
	require.NoError(t, s.UpsertItem(ctx, published))
	require.NoError(t, s.UpsertItem(ctx, pending))

	got, err := s.ListItems(ctx, ItemFilter{Status: model.ItemStatusPublished})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, published.ID, got[0].ID)
}

func TestSQLiteStore_SaveOutcome(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item := model.NewCandidateItem("HP CF259X")
	require.NoError(t, s.UpsertItem(ctx, item))
	require.NoError(t, s.SaveOutcome(ctx, item, model.ItemStatusNeedsReview, "retries exhausted"))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusNeedsReview, got.Status)
}

func TestSQLiteStore_KnownIdentifiers(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.AddIdentifier(ctx, "item-1", "CF259X"))
	require.NoError(t, s.AddIdentifier(ctx, "item-2", "Q-2612.A"))
	// Re-adding an identifier repoints it.
	require.NoError(t, s.AddIdentifier(ctx, "item-3", "CF259X"))

	known, err := s.KnownIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"CF259X":   "item-3",
		"Q-2612.A": "item-2",
	}, known)
}

func TestSQLiteStore_ClaimsRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	claims := []model.Claim{
		{Field: "yield_pages", Value: float64(3000), Confidence: 70, Source: "https://a.com"},
		{Field: "yield_pages", Value: float64(2000), Confidence: 90, Source: "https://hp.com"},
		{Field: "brand", Value: "HP", Confidence: 95, Source: "https://hp.com"},
	}
	require.NoError(t, s.SaveClaims(ctx, "item-1", claims))

	got, err := s.LoadClaims(ctx, "item-1")
	require.NoError(t, err)
	assert.Len(t, got["yield_pages"], 2)
	require.Len(t, got["brand"], 1)
	assert.Equal(t, "HP", got["brand"][0].Value)
	assert.Equal(t, float64(95), got["brand"][0].Confidence)

	other, err := s.LoadClaims(ctx, "item-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_ReviewQueueUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := review.Entry{
		ItemID:        "item-1",
		Identifier:    "CF259X",
		Priority:      model.PriorityMedium,
		Recommend:     []string{"retry manually during an off-peak window"},
		EffortMinutes: 25,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.UpsertReviewEntry(ctx, entry))

	entry.Priority = model.PriorityHigh
	entry.EffortMinutes = 18
	entry.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.UpsertReviewEntry(ctx, entry))

	entries, err := s.ListReviewEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "one live entry per item id")
	assert.Equal(t, model.PriorityHigh, entries[0].Priority)
	assert.Equal(t, 18, entries[0].EffortMinutes)

	require.NoError(t, s.DeleteReviewEntry(ctx, "item-1"))
	entries, err = s.ListReviewEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_ReviewQueueOrdering(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, e := range []review.Entry{
		{ItemID: "low", Priority: model.PriorityLow},
		{ItemID: "high", Priority: model.PriorityHigh},
		{ItemID: "medium", Priority: model.PriorityMedium},
	} {
		e.CreatedAt = now.Add(time.Duration(i) * time.Second)
		e.UpdatedAt = e.CreatedAt
		require.NoError(t, s.UpsertReviewEntry(ctx, e))
	}

	entries, err := s.ListReviewEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "high", entries[0].ItemID)
	assert.Equal(t, "medium", entries[1].ItemID)
	assert.Equal(t, "low", entries[2].ItemID)
}
