package textfeat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/temuan/internal/matcherr"
)

// CorpusSource supplies the live item descriptions a model is fit on.
type CorpusSource interface {
	Descriptions(ctx context.Context) ([]string, error)
}

// ModelStore persists fitted models.
type ModelStore interface {
	SaveTextModel(ctx context.Context, m *Model) error
	LoadTextModel(ctx context.Context) (*Model, bool, error)
}

// Extractor owns the current text model. Readers load it without locking;
// fits are serialized and swap in a new version on completion.
type Extractor struct {
	current  atomic.Pointer[Model]
	versions atomic.Int64
	fitMu    sync.Mutex
	group    singleflight.Group

	source        CorpusSource
	store         ModelStore
	params        Params
	minCorpusDocs int
	logger        *zap.Logger

	inputsMu  sync.RWMutex
	tokenizer *Tokenizer
	seed      []string
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the logger for the extractor.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = l
	}
}

// WithModelStore persists fitted models and restores them on Load.
func WithModelStore(s ModelStore) ExtractorOption {
	return func(e *Extractor) {
		e.store = s
	}
}

// WithStopwords replaces the default stopword list.
func WithStopwords(words []string) ExtractorOption {
	return func(e *Extractor) {
		e.tokenizer = NewTokenizer(words)
	}
}

// WithSeedCorpus replaces the bundled seed corpus.
func WithSeedCorpus(docs []string) ExtractorOption {
	return func(e *Extractor) {
		e.seed = docs
	}
}

// WithMinCorpusDocs sets the live corpus size below which the seed corpus is added.
func WithMinCorpusDocs(n int) ExtractorOption {
	return func(e *Extractor) {
		e.minCorpusDocs = n
	}
}

// NewExtractor creates an extractor fitting on source. No model exists until
// Load, Retrain or the first Vectorize call.
func NewExtractor(source CorpusSource, params Params, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		source:        source,
		params:        params,
		minCorpusDocs: 10,
		logger:        zap.NewNop(),
		tokenizer:     NewTokenizer(DefaultStopwords()),
		seed:          DefaultSeedCorpus(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the active model, or ErrStaleModel when none has been fit.
func (e *Extractor) Current() (*Model, error) {
	if m := e.current.Load(); m != nil {
		return m, nil
	}
	return nil, &matcherr.StaleModelError{}
}

// Tokenizer returns the tokenizer built from the current stopword list.
func (e *Extractor) Tokenizer() *Tokenizer {
	e.inputsMu.RLock()
	defer e.inputsMu.RUnlock()
	return e.tokenizer
}

// SetInputs replaces the stopwords and seed corpus. Existing models keep their
// own tokenizer; call Retrain to produce a model built from the new inputs.
func (e *Extractor) SetInputs(stopwords, seed []string) {
	e.inputsMu.Lock()
	defer e.inputsMu.Unlock()
	if stopwords != nil {
		e.tokenizer = NewTokenizer(stopwords)
	}
	if seed != nil {
		e.seed = seed
	}
}

// Fingerprint returns the fingerprint of the current inputs.
func (e *Extractor) Fingerprint() string {
	e.inputsMu.RLock()
	defer e.inputsMu.RUnlock()
	return Fingerprint(e.tokenizer.Stopwords(), e.seed, e.params)
}

// Model returns the active model, fitting one lazily when none exists.
// Concurrent first callers share a single fit.
func (e *Extractor) Model(ctx context.Context) (*Model, error) {
	if m := e.current.Load(); m != nil {
		return m, nil
	}
	v, err, _ := e.group.Do("fit", func() (interface{}, error) {
		if m := e.current.Load(); m != nil {
			return m, nil
		}
		e.logger.Info("text model not fitted, fitting lazily")
		return e.Retrain(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

// Vectorize returns the embedding of text and the model that produced it.
// It never fails: any extraction problem yields a zero vector of the current
// vocabulary size (empty when no model could be fit).
func (e *Extractor) Vectorize(ctx context.Context, text string) (vec []float32, m *Model) {
	m, err := e.Model(ctx)
	if err != nil {
		e.logger.Warn("text extraction failed, using zero vector", zap.Error(err))
		if cur := e.current.Load(); cur != nil {
			return make([]float32, cur.Dimensions()), cur
		}
		return []float32{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("text vectorization panicked, using zero vector",
				zap.Any("panic", r), zap.Int64("model_version", m.Version))
			vec = make([]float32, m.Dimensions())
		}
	}()
	return m.Transform(text), m
}

// Retrain fits a new model from the live corpus, topped up with the seed corpus
// when the live corpus is sparse, then persists and activates it.
func (e *Extractor) Retrain(ctx context.Context) (*Model, error) {
	e.fitMu.Lock()
	defer e.fitMu.Unlock()

	descs, err := e.source.Descriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus descriptions: %w", err)
	}
	docs := make([]string, 0, len(descs))
	for _, d := range descs {
		if d != "" {
			docs = append(docs, d)
		}
	}

	e.inputsMu.RLock()
	tok, seed := e.tokenizer, e.seed
	e.inputsMu.RUnlock()

	seeded := false
	if len(docs) < e.minCorpusDocs {
		docs = append(docs, seed...)
		seeded = true
	}

	m, err := Fit(docs, tok, e.params)
	if err != nil {
		return nil, fmt.Errorf("failed to fit text model: %w", err)
	}
	m.Fingerprint = Fingerprint(tok.Stopwords(), seed, e.params)
	m.Version = e.versions.Add(1)

	if e.store != nil {
		if err := e.store.SaveTextModel(ctx, m); err != nil {
			e.logger.Warn("failed to persist text model", zap.Int64("version", m.Version), zap.Error(err))
		}
	}
	e.current.Store(m)
	e.logger.Info("text model fitted",
		zap.Int64("version", m.Version),
		zap.Int("dimensions", m.Dimensions()),
		zap.Int("documents", m.DocCount),
		zap.Bool("seeded", seeded))
	return m, nil
}

// Load restores the persisted model when its fingerprint matches the current inputs.
// It reports whether a model was activated.
func (e *Extractor) Load(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, nil
	}
	m, ok, err := e.store.LoadTextModel(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load text model: %w", err)
	}
	if !ok {
		return false, nil
	}
	if m.Fingerprint != e.Fingerprint() {
		e.logger.Info("persisted text model is stale, refit required", zap.Int64("version", m.Version))
		e.bumpVersion(m.Version)
		return false, nil
	}
	if err := m.Restore(); err != nil {
		return false, err
	}
	e.fitMu.Lock()
	e.current.Store(m)
	e.bumpVersion(m.Version)
	e.fitMu.Unlock()
	e.logger.Info("text model loaded", zap.Int64("version", m.Version), zap.Int("dimensions", m.Dimensions()))
	return true, nil
}

// bumpVersion keeps version numbers monotonic across restarts.
func (e *Extractor) bumpVersion(v int64) {
	for {
		cur := e.versions.Load()
		if cur >= v || e.versions.CompareAndSwap(cur, v) {
			return
		}
	}
}
