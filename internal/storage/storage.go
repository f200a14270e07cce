// Package storage defines the persistence interfaces the matcher consumes.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/textfeat"
)

// Corpus reads searchable embeddings.
type Corpus interface {
	// Corpus returns the open items of collection with their embedding for modality.
	// Items without a stored embedding are returned with a nil Embedding.
	Corpus(ctx context.Context, modality models.Modality, collection models.Collection) ([]*models.CorpusEntry, error)
	PutEmbedding(ctx context.Context, itemID string, modality models.Modality, embedding []float32, version int64) error
}

// ItemStore persists item records.
type ItemStore interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListItems(ctx context.Context, collection models.Collection, offset, limit int) ([]*models.Item, error)
	UpdateItemStatus(ctx context.Context, id string, status models.Status, claimedBy string) (*models.Item, error)
	DeleteItem(ctx context.Context, id string) error
	CountItems(ctx context.Context, collection models.Collection) (int64, error)
	// Descriptions returns every non-empty item description, oldest first.
	Descriptions(ctx context.Context) ([]string, error)
}

// FeedbackStore persists the feedback log.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, rec *models.FeedbackRecord) error
	// RecentFeedback returns records newer than since, most recent first, at most limit.
	RecentFeedback(ctx context.Context, since time.Time, limit int) ([]*models.FeedbackRecord, error)
	CountFeedback(ctx context.Context) (int64, error)
}

// ThresholdStore persists the singleton threshold configuration.
type ThresholdStore interface {
	GetThresholdConfig(ctx context.Context) (*models.ThresholdConfig, bool, error)
	SetThresholdConfig(ctx context.Context, cfg *models.ThresholdConfig) error
}

// Storage is everything the application persists.
type Storage interface {
	Corpus
	ItemStore
	FeedbackStore
	ThresholdStore
	textfeat.ModelStore
	Close() error
}
