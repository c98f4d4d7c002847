// Package store persists candidate items, claims, known identifiers,
// and the manual review queue. Two backends exist: SQLite for
// single-operator installs and PostgreSQL for shared deployments.
package store

import (
	"context"

	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/review"
)

// ItemFilter specifies criteria for listing items.
type ItemFilter struct {
	Status model.ItemStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment core. The
// core assumes read-your-writes consistency; concurrent writers to the
// same item must be serialized by the backing database.
type Store interface {
	// Items
	UpsertItem(ctx context.Context, item *model.CandidateItem) error
	GetItem(ctx context.Context, itemID string) (*model.CandidateItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.CandidateItem, error)
	SaveOutcome(ctx context.Context, item *model.CandidateItem, status model.ItemStatus, reason string) error

	// Known catalog identifiers (deduplication)
	KnownIdentifiers(ctx context.Context) (map[string]string, error)
	AddIdentifier(ctx context.Context, itemID, identifier string) error

	// Claims
	SaveClaims(ctx context.Context, itemID string, claims []model.Claim) error
	LoadClaims(ctx context.Context, itemID string) (map[string][]model.Claim, error)

	// Manual review queue
	UpsertReviewEntry(ctx context.Context, entry review.Entry) error
	ListReviewEntries(ctx context.Context) ([]review.Entry, error)
	DeleteReviewEntry(ctx context.Context, itemID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
