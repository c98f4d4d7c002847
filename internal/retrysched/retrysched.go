// Package retrysched decides retry eligibility for failed catalog items
// and runs the periodic scan that feeds ready items back into the
// pipeline.
package retrysched

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
)

// Policy controls retry eligibility and backoff shape.
type Policy struct {
	// MaxAttempts caps total attempts per item. Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Default: 1m.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Default: 30m.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt. Default: 2.0.
	Multiplier float64

	// RetryableReasons, when non-empty, is the authoritative set of
	// reason codes eligible for retry. When empty, each error record's
	// own classification decides.
	RetryableReasons []faults.Reason
}

// DefaultPolicy returns the standard enrichment retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    30 * time.Minute,
		Multiplier:  2.0,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Minute
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Minute
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// recordRetryable applies the policy's reason allowlist when present,
// otherwise defers to the record's own classification.
func (p Policy) recordRetryable(rec faults.Record) bool {
	if len(p.RetryableReasons) == 0 {
		return rec.Retryable
	}
	for _, r := range p.RetryableReasons {
		if rec.Reason == r {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether the item has attempts left and carries at
// least one individually retryable error record.
func (p Policy) ShouldRetry(item *model.CandidateItem) bool {
	p = p.withDefaults()
	if item.Attempts >= p.MaxAttempts {
		return false
	}
	for _, rec := range item.Errors {
		if p.recordRetryable(rec) {
			return true
		}
	}
	return false
}

// ScheduleRetry increments the item's attempt count and stamps its
// next-eligible-retry time. The delay grows exponentially with the
// attempt count, capped at MaxDelay. Calling it on an item already at
// the attempt cap leaves ShouldRetry false, so over-scheduling is
// harmless.
func (p Policy) ScheduleRetry(item *model.CandidateItem, now time.Time) *model.CandidateItem {
	p = p.withDefaults()
	item.Attempts++

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(item.Attempts-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	next := now.Add(time.Duration(delay))
	item.NextRetryAt = &next
	item.Status = model.ItemStatusPending
	item.UpdatedAt = now
	return item
}

// ReadyForRetry filters items whose next-eligible-retry time has
// passed, earliest first.
func ReadyForRetry(items []*model.CandidateItem, now time.Time) []*model.CandidateItem {
	var ready []*model.CandidateItem
	for _, item := range items {
		if item.NextRetryAt != nil && !item.NextRetryAt.After(now) && !item.Status.Terminal() {
			ready = append(ready, item)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].NextRetryAt.Before(*ready[j].NextRetryAt)
	})
	return ready
}

// Scanner periodically requeues items whose retry time has arrived.
// Exactly one item is requeued per tick, so a burst of simultaneous
// eligibility never turns into a retry storm.
type Scanner struct {
	policy   Policy
	interval time.Duration
	pending  func(ctx context.Context) ([]*model.CandidateItem, error)
	requeue  func(ctx context.Context, item *model.CandidateItem) error

	nowFunc func() time.Time
}

// NewScanner builds a scanner over the given pending-item source and
// requeue sink.
func NewScanner(
	policy Policy,
	interval time.Duration,
	pending func(ctx context.Context) ([]*model.CandidateItem, error),
	requeue func(ctx context.Context, item *model.CandidateItem) error,
) *Scanner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scanner{
		policy:   policy.withDefaults(),
		interval: interval,
		pending:  pending,
		requeue:  requeue,
		nowFunc:  time.Now,
	}
}

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	zap.L().Debug("retry scanner started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			zap.L().Debug("retry scanner stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scan pass, requeuing at most one ready item.
func (s *Scanner) Tick(ctx context.Context) {
	items, err := s.pending(ctx)
	if err != nil {
		zap.L().Error("retry scan failed to load pending items", zap.Error(err))
		return
	}

	ready := ReadyForRetry(items, s.nowFunc())
	if len(ready) == 0 {
		return
	}

	item := ready[0]
	if err := s.requeue(ctx, item); err != nil {
		zap.L().Error("retry requeue failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
		return
	}
	item.NextRetryAt = nil
	zap.L().Info("item requeued for retry",
		zap.String("item_id", item.ID),
		zap.String("identifier", item.Identifier),
		zap.Int("attempts", item.Attempts),
		zap.Int("remaining_ready", len(ready)-1),
	)
}
