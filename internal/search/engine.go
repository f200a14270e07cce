package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/embedding"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/storage"
	"github.com/hyperjump/temuan/internal/textfeat"
	"github.com/hyperjump/temuan/internal/vector"
)

// ThresholdProvider supplies the current thresholds and fusion weights.
type ThresholdProvider interface {
	GetThresholds(ctx context.Context) *models.ThresholdConfig
}

// TextVectorizer turns query text into an embedding of the current text model.
type TextVectorizer interface {
	Vectorize(ctx context.Context, text string) ([]float32, *textfeat.Model)
	Tokenizer() *textfeat.Tokenizer
}

// Engine answers match requests over the stored corpus.
type Engine struct {
	corpus     storage.Corpus
	images     embedding.Extractor
	text       TextVectorizer
	thresholds ThresholdProvider
	config     *config.MatchingConfig
	scoring    TextScoring
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTextScoring overrides the text score weights.
func WithTextScoring(s TextScoring) EngineOption {
	return func(e *Engine) {
		e.scoring = s
	}
}

// NewEngine creates a match engine with the given dependencies.
func NewEngine(
	corpus storage.Corpus,
	images embedding.Extractor,
	text TextVectorizer,
	thresholds ThresholdProvider,
	cfg *config.MatchingConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		corpus:     corpus,
		images:     images,
		text:       text,
		thresholds: thresholds,
		config:     cfg,
		scoring:    DefaultTextScoring(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidates holds every hit above the loosest threshold a request may use.
type candidates struct {
	image []vector.Hit
	text  []TextHit

	// partial is set when a modality was dropped for running out of time.
	partial bool
}

// Match runs the request's modalities in parallel and fuses the results.
// When fewer than FallbackMinResults items pass, thresholds are loosened once.
func (e *Engine) Match(ctx context.Context, req *models.MatchRequest) (*models.MatchResult, error) {
	start := time.Now()
	if err := req.Validate(models.Collection(e.config.DefaultCollection), e.config.DefaultMaxResults, e.config.MaxResultsLimit); err != nil {
		return nil, err
	}
	settings := e.resolve(ctx, req)

	var imageQuery []float32
	if req.HasImage() {
		emb, err := e.images.ExtractMulti(ctx, req.Images)
		if err != nil {
			return nil, err
		}
		imageQuery = emb
	}

	var textQuery *TextQuery
	var model *textfeat.Model
	if req.HasText() {
		vec, m := e.text.Vectorize(ctx, req.Text)
		model = m
		tok := e.text.Tokenizer()
		if m != nil {
			tok = m.Tokenizer()
		}
		textQuery = NewTextQuery(req.Text, vec, tok)
	}

	factor := e.config.FallbackFactor
	cands, err := e.gather(ctx, req.Collection, imageQuery, textQuery, model,
		settings.ImageThreshold*factor, settings.TextThreshold*factor)
	if err != nil {
		return nil, err
	}

	maxResults := *req.MaxResults
	matches := cands.fuse(settings.ImageThreshold, settings.TextThreshold, settings.ImageWeight, settings.TextWeight)
	result := &models.MatchResult{
		Partial:        cands.partial,
		Collection:     req.Collection,
		ImageThreshold: settings.ImageThreshold,
		TextThreshold:  settings.TextThreshold,
		ImageWeight:    settings.ImageWeight,
		TextWeight:     settings.TextWeight,
	}
	if len(matches) < e.config.FallbackMinResults && factor > 0 && factor < 1 {
		result.FallbackUsed = true
		result.ImageThreshold = settings.ImageThreshold * factor
		result.TextThreshold = settings.TextThreshold * factor
		matches = cands.fuse(result.ImageThreshold, result.TextThreshold, settings.ImageWeight, settings.TextWeight)
		e.logger.Debug("fallback thresholds applied",
			zap.Float64("image_threshold", result.ImageThreshold),
			zap.Float64("text_threshold", result.TextThreshold),
			zap.Int("matches", len(matches)))
	}

	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	for i, m := range matches {
		m.Rank = i + 1
	}
	result.Matches = matches
	result.Total = len(matches)
	if model != nil {
		result.ModelVersion = model.Version
	}
	result.QueryTime = time.Since(start).Milliseconds()
	return result, nil
}

// resolve merges request overrides with the controller's config.
func (e *Engine) resolve(ctx context.Context, req *models.MatchRequest) models.ThresholdConfig {
	cfg := *e.thresholds.GetThresholds(ctx)
	if req.ImageThreshold != nil {
		cfg.ImageThreshold = *req.ImageThreshold
	}
	if req.TextThreshold != nil {
		cfg.TextThreshold = *req.TextThreshold
	}
	if req.ImageWeight != nil {
		cfg.ImageWeight = *req.ImageWeight
	}
	if req.TextWeight != nil {
		cfg.TextWeight = *req.TextWeight
	}
	cfg.ImageWeight, cfg.TextWeight = NormalizeWeights(cfg.ImageWeight, cfg.TextWeight)
	return cfg
}

// gather searches each queried modality under the search budget. When the
// budget runs out for one modality while the other finished, the finished
// hits are kept and the result is marked partial. Running out on every queried
// modality returns the deadline error.
func (e *Engine) gather(ctx context.Context, collection models.Collection, imageQuery []float32, textQuery *TextQuery, model *textfeat.Model, imageFloor, textFloor float64) (*candidates, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	if e.config.SearchTimeout > 0 {
		searchCtx, cancel = context.WithTimeout(ctx, e.config.SearchTimeout)
	}
	defer cancel()

	// expired reports whether the search budget, not the caller, ended the scan.
	expired := func() bool {
		return errors.Is(searchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}

	var cands candidates
	var imageLate, textLate bool
	g, gctx := errgroup.WithContext(searchCtx)
	if imageQuery != nil {
		g.Go(func() error {
			hits, err := e.findImages(gctx, collection, imageQuery, imageFloor)
			if err != nil {
				if expired() {
					imageLate = true
					return nil
				}
				return err
			}
			cands.image = hits
			return nil
		})
	}
	if textQuery != nil {
		g.Go(func() error {
			hits, err := e.findText(gctx, collection, textQuery, model, textFloor)
			if err != nil {
				if expired() {
					textLate = true
					return nil
				}
				return err
			}
			cands.text = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	imageDone := imageQuery != nil && !imageLate
	textDone := textQuery != nil && !textLate
	if !imageDone && !textDone {
		return nil, fmt.Errorf("match search exceeded %s: %w", e.config.SearchTimeout, context.DeadlineExceeded)
	}
	if imageLate || textLate {
		cands.partial = true
		e.logger.Warn("search budget exceeded, returning partial result",
			zap.Bool("image_dropped", imageLate),
			zap.Bool("text_dropped", textLate),
			zap.Duration("budget", e.config.SearchTimeout))
	}
	return &cands, nil
}

func (e *Engine) findImages(ctx context.Context, collection models.Collection, query []float32, floor float64) ([]vector.Hit, error) {
	corpus, err := e.corpus.Corpus(ctx, models.ModalityImage, collection)
	if err != nil {
		return nil, fmt.Errorf("image corpus: %w", err)
	}
	hits, err := vector.Find(ctx, query, corpus, floor)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}
	return hits, nil
}

func (e *Engine) findText(ctx context.Context, collection models.Collection, query *TextQuery, model *textfeat.Model, floor float64) ([]TextHit, error) {
	corpus, err := e.corpus.Corpus(ctx, models.ModalityText, collection)
	if err != nil {
		return nil, fmt.Errorf("text corpus: %w", err)
	}
	tok := e.text.Tokenizer()
	if model != nil {
		e.fillTextEmbeddings(ctx, corpus, model)
		tok = model.Tokenizer()
	}
	hits, err := FindText(ctx, query, corpus, tok, floor, e.scoring)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	return hits, nil
}

// fillTextEmbeddings vectorizes entries that have no embedding from model and
// stores them. Store failures are logged; the in-memory vectors are still used.
func (e *Engine) fillTextEmbeddings(ctx context.Context, corpus []*models.CorpusEntry, model *textfeat.Model) {
	filled := 0
	for _, entry := range corpus {
		if entry.ModelVersion == model.Version && len(entry.Embedding) == model.Dimensions() {
			continue
		}
		entry.Embedding = model.Transform(entry.Description)
		entry.ModelVersion = model.Version
		if err := e.corpus.PutEmbedding(ctx, entry.ID, models.ModalityText, entry.Embedding, model.Version); err != nil {
			e.logger.Warn("failed to store text embedding", zap.String("item_id", entry.ID), zap.Error(err))
			continue
		}
		filled++
	}
	if filled > 0 {
		e.logger.Info("text embeddings regenerated", zap.Int("count", filled), zap.Int64("model_version", model.Version))
	}
}

// fuse filters candidates at the given thresholds and fuses them.
func (c *candidates) fuse(imageThreshold, textThreshold, wi, wt float64) []*models.Match {
	image := make([]vector.Hit, 0, len(c.image))
	for _, h := range c.image {
		if h.Score >= imageThreshold {
			image = append(image, h)
		}
	}
	text := make([]TextHit, 0, len(c.text))
	for _, h := range c.text {
		if h.Score >= textThreshold {
			text = append(text, h)
		}
	}
	return Fuse(image, text, wi, wt)
}
