package retrysched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
)

func newFailedItem(reasons ...faults.Reason) *model.CandidateItem {
	item := model.NewCandidateItem("HP CF259X")
	item.Identifier = "CF259X"
	for _, r := range reasons {
		item.RecordError(r, "test failure", "fetch")
	}
	return item
}

func TestShouldRetry(t *testing.T) {
	policy := DefaultPolicy()

	t.Run("retryable error with attempts left", func(t *testing.T) {
		item := newFailedItem(faults.ReasonTimeout)
		assert.True(t, policy.ShouldRetry(item))
	})

	t.Run("no retryable errors", func(t *testing.T) {
		item := newFailedItem(faults.ReasonAuthInvalid)
		assert.False(t, policy.ShouldRetry(item))
	})

	t.Run("mixed errors need only one retryable", func(t *testing.T) {
		item := newFailedItem(faults.ReasonAuthInvalid, faults.ReasonRateLimited)
		assert.True(t, policy.ShouldRetry(item))
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		item := newFailedItem(faults.ReasonTimeout)
		item.Attempts = policy.MaxAttempts
		assert.False(t, policy.ShouldRetry(item))
	})

	t.Run("reason allowlist overrides classification", func(t *testing.T) {
		strict := DefaultPolicy()
		strict.RetryableReasons = []faults.Reason{faults.ReasonRateLimited}
		item := newFailedItem(faults.ReasonTimeout)
		assert.False(t, strict.ShouldRetry(item))

		item.RecordError(faults.ReasonRateLimited, "429", "fetch")
		assert.True(t, strict.ShouldRetry(item))
	})
}

func TestScheduleRetry_BackoffGrowth(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: 5 * time.Minute, Multiplier: 2.0}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := newFailedItem(faults.ReasonTimeout)

	policy.ScheduleRetry(item, now)
	require.NotNil(t, item.NextRetryAt)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, now.Add(time.Minute), *item.NextRetryAt)
	assert.Equal(t, model.ItemStatusPending, item.Status)

	policy.ScheduleRetry(item, now)
	assert.Equal(t, now.Add(2*time.Minute), *item.NextRetryAt)

	policy.ScheduleRetry(item, now)
	assert.Equal(t, now.Add(4*time.Minute), *item.NextRetryAt)

	// Fourth retry would be 8m; the cap holds it at 5m.
	policy.ScheduleRetry(item, now)
	assert.Equal(t, now.Add(5*time.Minute), *item.NextRetryAt)
}

func TestScheduleRetry_IdempotentAtCap(t *testing.T) {
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	now := time.Now()
	item := newFailedItem(faults.ReasonTimeout)

	policy.ScheduleRetry(item, now)
	policy.ScheduleRetry(item, now)
	assert.False(t, policy.ShouldRetry(item))

	// Over-scheduling past the cap never re-enables retry.
	policy.ScheduleRetry(item, now)
	policy.ScheduleRetry(item, now)
	assert.False(t, policy.ShouldRetry(item))
}

func TestReadyForRetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	past := newFailedItem(faults.ReasonTimeout)
	at1 := now.Add(-time.Minute)
	past.NextRetryAt = &at1

	earlier := newFailedItem(faults.ReasonTimeout)
	at2 := now.Add(-2 * time.Minute)
	earlier.NextRetryAt = &at2

	future := newFailedItem(faults.ReasonTimeout)
	at3 := now.Add(time.Minute)
	future.NextRetryAt = &at3

	unscheduled := newFailedItem(faults.ReasonTimeout)

	terminal := newFailedItem(faults.ReasonTimeout)
	terminal.NextRetryAt = &at1
	terminal.Status = model.ItemStatusFailed

	ready := ReadyForRetry([]*model.CandidateItem{past, earlier, future, unscheduled, terminal}, now)
	require.Len(t, ready, 2)
	assert.Equal(t, earlier.ID, ready[0].ID, "earliest retry time first")
	assert.Equal(t, past.ID, ready[1].ID)
}

func TestScanner_OneItemPerTick(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := make([]*model.CandidateItem, 3)
	for i := range items {
		items[i] = newFailedItem(faults.ReasonTimeout)
		at := now.Add(time.Duration(-i-1) * time.Minute)
		items[i].NextRetryAt = &at
	}

	var requeued []string
	scanner := NewScanner(DefaultPolicy(), time.Second,
		func(context.Context) ([]*model.CandidateItem, error) { return items, nil },
		func(_ context.Context, item *model.CandidateItem) error {
			requeued = append(requeued, item.ID)
			return nil
		},
	)
	scanner.nowFunc = func() time.Time { return now }

	scanner.Tick(context.Background())
	require.Len(t, requeued, 1, "exactly one item requeued per tick")
	assert.Equal(t, items[2].ID, requeued[0], "oldest eligibility first")

	scanner.Tick(context.Background())
	assert.Len(t, requeued, 2)
	assert.Equal(t, items[1].ID, requeued[1])

	scanner.Tick(context.Background())
	scanner.Tick(context.Background())
	assert.Len(t, requeued, 3, "drained queue requeues nothing")
}
