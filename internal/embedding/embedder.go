// Package embedding turns item photos into fixed-length visual embeddings.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/vector"
)

// Backbone maps a normalized CHW image tensor to an embedding.
type Backbone interface {
	Embed(ctx context.Context, tensor []float32) ([]float32, error)
	Dimensions() int
	Close() error
}

// Extractor produces image embeddings.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]float32, error)
	ExtractMulti(ctx context.Context, images [][]byte) ([]float32, error)
	Dimensions() int
}

// ImageEmbedder decodes images, prepares the backbone input and caches results.
type ImageEmbedder struct {
	backbone  Backbone
	inputSize int
	cache     *EmbeddingCache
	logger    *zap.Logger
}

// ImageEmbedderOption configures an ImageEmbedder.
type ImageEmbedderOption func(*ImageEmbedder)

// WithLogger sets the logger for the embedder.
func WithLogger(l *zap.Logger) ImageEmbedderOption {
	return func(e *ImageEmbedder) {
		e.logger = l
	}
}

// WithCacheSize sets the number of cached embeddings. Zero disables the cache.
func WithCacheSize(n int) ImageEmbedderOption {
	return func(e *ImageEmbedder) {
		e.cache = NewEmbeddingCache(n)
	}
}

// NewImageEmbedder wraps backbone. inputSize is the square side the backbone expects.
func NewImageEmbedder(backbone Backbone, inputSize int, opts ...ImageEmbedderOption) *ImageEmbedder {
	if inputSize <= 0 {
		inputSize = 224
	}
	e := &ImageEmbedder{
		backbone:  backbone,
		inputSize: inputSize,
		cache:     NewEmbeddingCache(1000),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the embedding of one encoded image. Failures are ExtractionErrors.
func (e *ImageEmbedder) Extract(ctx context.Context, data []byte) ([]float32, error) {
	key := Key(data)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}
	img, err := Decode(data)
	if err != nil {
		return nil, matcherr.NewExtraction("image", err)
	}
	emb, err := e.backbone.Embed(ctx, ToTensor(img, e.inputSize))
	if err != nil {
		return nil, matcherr.NewExtraction("image", err)
	}
	if len(emb) != e.backbone.Dimensions() {
		return nil, matcherr.NewExtraction("image",
			fmt.Errorf("backbone returned %d values, expected %d", len(emb), e.backbone.Dimensions()))
	}
	e.cache.Set(key, emb)
	return emb, nil
}

// ExtractMulti returns the component-wise mean of the embeddings of images.
// Empty entries are ignored; at least one image is required.
func (e *ImageEmbedder) ExtractMulti(ctx context.Context, images [][]byte) ([]float32, error) {
	embs := make([][]float32, 0, len(images))
	for i, data := range images {
		if len(data) == 0 {
			continue
		}
		emb, err := e.Extract(ctx, data)
		if err != nil {
			e.logger.Debug("image extraction failed", zap.Int("index", i), zap.Error(err))
			return nil, err
		}
		embs = append(embs, emb)
	}
	if len(embs) == 0 {
		return nil, matcherr.NewExtraction("image", errors.New("no images supplied"))
	}
	if len(embs) == 1 {
		return embs[0], nil
	}
	mean, ok := vector.Mean(embs)
	if !ok {
		return nil, matcherr.NewExtraction("image", errors.New("embeddings have mismatched dimensions"))
	}
	return mean, nil
}

// Dimensions returns the embedding dimension.
func (e *ImageEmbedder) Dimensions() int {
	return e.backbone.Dimensions()
}

// Close releases the backbone.
func (e *ImageEmbedder) Close() error {
	return e.backbone.Close()
}
