// Package keyword provides full-text lookup over the item catalog.
package keyword

import (
	"context"

	"github.com/hyperjump/temuan/internal/models"
)

// SearchOptions are optional parameters for catalog search. Nil means use defaults.
type SearchOptions struct {
	// Collection restricts hits to one collection. Empty searches both.
	Collection models.Collection
	// Status restricts hits to one item status. Empty matches any status.
	Status models.Status
	// NameBoost multiplies the score contribution from item_name matches.
	// Values <= 1 search all text fields with a single query.
	NameBoost float64
	// FuzzyEnabled enables typo-tolerant term matching.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// Catalog indexes item text for operator lookups.
type Catalog interface {
	Index(ctx context.Context, item *models.Item) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, id string) error
	Close() error
	// DocCount returns the total number of items in the index.
	DocCount() (uint64, error)
}

// Result is a single catalog hit.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
