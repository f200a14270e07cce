// Package indexer registers items and keeps their embeddings and catalog entries current.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/temuan/internal/embedding"
	"github.com/hyperjump/temuan/internal/keyword"
	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/objects"
	"github.com/hyperjump/temuan/internal/storage"
	"github.com/hyperjump/temuan/internal/textfeat"
)

// imageEmbeddingVersion tags stored image embeddings. The backbone is fixed for
// the lifetime of a deployment, so a constant is enough.
const imageEmbeddingVersion = 1

// TextExtractor is the part of the text feature extractor the indexer needs.
type TextExtractor interface {
	Model(ctx context.Context) (*textfeat.Model, error)
	Vectorize(ctx context.Context, text string) ([]float32, *textfeat.Model)
	Retrain(ctx context.Context) (*textfeat.Model, error)
}

// RefreshResult counts the outcome of an embedding regeneration pass.
type RefreshResult struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Indexer registers items into storage, the embedding store, and the catalog.
type Indexer struct {
	storage storage.Storage
	images  embedding.Extractor
	text    TextExtractor
	catalog keyword.Catalog
	objects objects.Store
	logger  *zap.Logger
	now     func() time.Time

	// refreshMu serializes regeneration passes.
	refreshMu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for registry events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer with the given dependencies.
// store may be nil; photos are then embedded but not kept.
func NewIndexer(
	storage storage.Storage,
	images embedding.Extractor,
	text TextExtractor,
	catalog keyword.Catalog,
	store objects.Store,
	opts ...IndexerOption,
) *Indexer {
	if store == nil {
		store = objects.Unconfigured{}
	}
	idx := &Indexer{
		storage: storage,
		images:  images,
		text:    text,
		catalog: catalog,
		objects: store,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Register validates input, embeds it, and persists the new item.
func (idx *Indexer) Register(ctx context.Context, input *models.ItemInput) (*models.Item, error) {
	if input == nil {
		return nil, matcherr.NewInvalidInput("item", "missing body")
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := idx.now().UTC()
	item := &models.Item{
		ID:          uuid.New().String(),
		Collection:  input.Collection,
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Location:    strings.TrimSpace(input.Location),
		Status:      input.Collection.OpenStatus(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	photos := make([][]byte, 0, len(input.Images)+len(input.ImageRefs))
	for _, ref := range input.ImageRefs {
		data, err := idx.objects.Get(ctx, ref)
		if err != nil {
			return nil, matcherr.NewExtraction("image", fmt.Errorf("fetch %s: %w", ref, err))
		}
		photos = append(photos, data)
	}
	photos = append(photos, input.Images...)

	var imageEmb []float32
	if len(photos) > 0 {
		emb, err := idx.images.ExtractMulti(ctx, photos)
		if err != nil {
			return nil, err
		}
		imageEmb = emb
	}

	var textEmb []float32
	var textModel *textfeat.Model
	if item.Description != "" {
		textEmb, textModel = idx.text.Vectorize(ctx, item.Description)
	}

	refs, err := idx.storePhotos(ctx, item.ID, input.Images)
	if err != nil {
		idx.discard(ctx, item.ID, refs)
		return nil, err
	}
	item.ImageRefs = append(append([]string{}, input.ImageRefs...), refs...)

	if err := idx.persist(ctx, item, imageEmb, textEmb, textModel); err != nil {
		idx.discard(ctx, item.ID, refs)
		return nil, err
	}
	if err := idx.catalog.Index(ctx, item); err != nil {
		idx.logger.Warn("failed to index item in catalog", zap.String("item_id", item.ID), zap.Error(err))
	}
	idx.logger.Info("item registered",
		zap.String("item_id", item.ID),
		zap.String("collection", string(item.Collection)),
		zap.Int("images", len(photos)),
		zap.Bool("text_embedding", textModel != nil && len(textEmb) > 0))
	return item, nil
}

// persist writes the item row and its embeddings.
func (idx *Indexer) persist(ctx context.Context, item *models.Item, imageEmb, textEmb []float32, textModel *textfeat.Model) error {
	if err := idx.storage.CreateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to store item: %w", err)
	}
	if imageEmb != nil {
		if err := idx.storage.PutEmbedding(ctx, item.ID, models.ModalityImage, imageEmb, imageEmbeddingVersion); err != nil {
			return fmt.Errorf("failed to store image embedding: %w", err)
		}
	}
	// Without a model the matcher fills the text embedding on first search.
	if textModel != nil && len(textEmb) > 0 {
		if err := idx.storage.PutEmbedding(ctx, item.ID, models.ModalityText, textEmb, textModel.Version); err != nil {
			return fmt.Errorf("failed to store text embedding: %w", err)
		}
	}
	return nil
}

// discard removes what a failed registration already wrote: the item row with
// its embeddings and the photos uploaded for it. Refs the caller supplied are
// left alone. Cleanup runs even when ctx is already canceled.
func (idx *Indexer) discard(ctx context.Context, itemID string, uploaded []string) {
	ctx = context.WithoutCancel(ctx)
	var errs error
	if err := idx.storage.DeleteItem(ctx, itemID); err != nil && !errors.Is(err, matcherr.ErrNotFound) {
		errs = multierr.Append(errs, fmt.Errorf("item: %w", err))
	}
	for _, ref := range uploaded {
		if err := idx.objects.Delete(ctx, ref); err != nil && !errors.Is(err, objects.ErrNotConfigured) {
			errs = multierr.Append(errs, fmt.Errorf("photo %s: %w", ref, err))
		}
	}
	if errs != nil {
		idx.logger.Warn("failed registration left leftovers", zap.String("item_id", itemID), zap.Error(errs))
	}
}

// storePhotos uploads raw photos and returns their refs. Without a configured
// store the photos are not kept and no refs are returned. On failure the refs
// uploaded so far are returned with the error.
func (idx *Indexer) storePhotos(ctx context.Context, itemID string, images [][]byte) ([]string, error) {
	refs := make([]string, 0, len(images))
	for i, data := range images {
		if len(data) == 0 {
			continue
		}
		ref := objects.ImageRef(itemID, i, data)
		if err := idx.objects.Put(ctx, ref, data); err != nil {
			if errors.Is(err, objects.ErrNotConfigured) {
				idx.logger.Debug("no image store configured, photos not kept", zap.String("item_id", itemID))
				return nil, nil
			}
			return refs, fmt.Errorf("failed to store photo: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Get returns the item with id.
func (idx *Indexer) Get(ctx context.Context, id string) (*models.Item, error) {
	return idx.storage.GetItem(ctx, id)
}

// List returns items of collection, newest first. An empty collection lists both.
func (idx *Indexer) List(ctx context.Context, collection models.Collection, offset, limit int) ([]*models.Item, error) {
	return idx.storage.ListItems(ctx, collection, offset, limit)
}

// UpdateStatus applies a lifecycle change and refreshes the catalog entry.
func (idx *Indexer) UpdateStatus(ctx context.Context, id string, update *models.StatusUpdate) (*models.Item, error) {
	if update == nil {
		return nil, matcherr.NewInvalidInput("status", "missing body")
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	item, err := idx.storage.UpdateItemStatus(ctx, id, update.Status, strings.TrimSpace(update.ClaimedBy))
	if err != nil {
		return nil, err
	}
	if err := idx.catalog.Index(ctx, item); err != nil {
		idx.logger.Warn("failed to reindex item in catalog", zap.String("item_id", id), zap.Error(err))
	}
	idx.logger.Info("item status updated", zap.String("item_id", id), zap.String("status", string(item.Status)))
	return item, nil
}

// Delete removes an item from storage, the catalog, and the image store.
func (idx *Indexer) Delete(ctx context.Context, id string) error {
	item, err := idx.storage.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if err := idx.storage.DeleteItem(ctx, id); err != nil {
		return err
	}
	var errs error
	if err := idx.catalog.Delete(ctx, id); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("catalog: %w", err))
	}
	for _, ref := range item.ImageRefs {
		if err := idx.objects.Delete(ctx, ref); err != nil && !errors.Is(err, objects.ErrNotConfigured) {
			errs = multierr.Append(errs, fmt.Errorf("photo %s: %w", ref, err))
		}
	}
	if errs != nil {
		idx.logger.Warn("item deleted with leftovers", zap.String("item_id", id), zap.Error(errs))
	} else {
		idx.logger.Info("item deleted", zap.String("item_id", id))
	}
	return nil
}

// Search looks items up in the catalog. Hits whose item is gone are dropped.
func (idx *Indexer) Search(ctx context.Context, query string, limit int, opts *keyword.SearchOptions) ([]*models.Item, error) {
	hits, err := idx.catalog.Search(ctx, query, limit, opts)
	if err != nil {
		return nil, err
	}
	items := make([]*models.Item, 0, len(hits))
	for _, hit := range hits {
		item, err := idx.storage.GetItem(ctx, hit.ID)
		if errors.Is(err, matcherr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// RebuildCatalog indexes every stored item. It returns the number indexed.
func (idx *Indexer) RebuildCatalog(ctx context.Context) (int, error) {
	items, err := idx.storage.ListItems(ctx, "", 0, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := idx.catalog.Index(ctx, item); err != nil {
			return n, err
		}
		n++
	}
	idx.logger.Info("catalog rebuilt", zap.Int("items", n))
	return n, nil
}

// RefreshText recomputes every item's text embedding with the current model.
// Items without a description are skipped.
func (idx *Indexer) RefreshText(ctx context.Context) (*RefreshResult, error) {
	idx.refreshMu.Lock()
	defer idx.refreshMu.Unlock()

	model, err := idx.text.Model(ctx)
	if err != nil {
		return nil, err
	}
	items, err := idx.storage.ListItems(ctx, "", 0, 0)
	if err != nil {
		return nil, err
	}
	res := &RefreshResult{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if item.Description == "" {
			res.Skipped++
			continue
		}
		if err := idx.storage.PutEmbedding(ctx, item.ID, models.ModalityText, model.Transform(item.Description), model.Version); err != nil {
			idx.logger.Warn("text embedding refresh failed", zap.String("item_id", item.ID), zap.Error(err))
			res.Failed++
			continue
		}
		res.Updated++
	}
	idx.logger.Info("text embeddings refreshed",
		zap.Int64("model_version", model.Version),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// RefreshImages recomputes image embeddings from the stored photos.
// Items without photo refs are skipped.
func (idx *Indexer) RefreshImages(ctx context.Context) (*RefreshResult, error) {
	idx.refreshMu.Lock()
	defer idx.refreshMu.Unlock()

	items, err := idx.storage.ListItems(ctx, "", 0, 0)
	if err != nil {
		return nil, err
	}
	res := &RefreshResult{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(item.ImageRefs) == 0 {
			res.Skipped++
			continue
		}
		if err := idx.refreshImage(ctx, item); err != nil {
			idx.logger.Warn("image embedding refresh failed", zap.String("item_id", item.ID), zap.Error(err))
			res.Failed++
			continue
		}
		res.Updated++
	}
	idx.logger.Info("image embeddings refreshed",
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (idx *Indexer) refreshImage(ctx context.Context, item *models.Item) error {
	photos := make([][]byte, 0, len(item.ImageRefs))
	for _, ref := range item.ImageRefs {
		data, err := idx.objects.Get(ctx, ref)
		if err != nil {
			return err
		}
		photos = append(photos, data)
	}
	emb, err := idx.images.ExtractMulti(ctx, photos)
	if err != nil {
		return err
	}
	return idx.storage.PutEmbedding(ctx, item.ID, models.ModalityImage, emb, imageEmbeddingVersion)
}

// Retrain refits the text model and regenerates all text embeddings with it.
func (idx *Indexer) Retrain(ctx context.Context) (*textfeat.Model, *RefreshResult, error) {
	model, err := idx.text.Retrain(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := idx.RefreshText(ctx)
	if err != nil {
		return model, res, err
	}
	return model, res, nil
}
