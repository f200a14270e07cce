package feedback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/storage"
)

// Store is the persistence the controller needs.
type Store interface {
	storage.FeedbackStore
	storage.ThresholdStore
}

// Controller records feedback and serves the thresholds derived from it.
// The active config is swapped atomically; recomputations are serialized.
type Controller struct {
	store   Store
	config  *config.FeedbackConfig
	current atomic.Pointer[models.ThresholdConfig]
	last    atomic.Pointer[Analysis]
	group   singleflight.Group
	mu      sync.Mutex
	bg      sync.WaitGroup
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for the controller.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller over store.
func NewController(store Store, cfg *config.FeedbackConfig, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		config: cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordFeedback validates and durably appends rec, then recomputes in the
// background. Only a failed append is returned; recomputation errors are logged.
func (c *Controller) RecordFeedback(ctx context.Context, rec *models.FeedbackRecord) (*models.FeedbackRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now().UTC()
	}
	if err := c.store.AppendFeedback(ctx, rec); err != nil {
		c.logger.Error("failed to persist feedback", zap.String("match_id", rec.MatchID), zap.Error(err))
		return nil, &matcherr.FeedbackPersistError{Err: err}
	}
	c.logger.Info("feedback recorded",
		zap.String("id", rec.ID),
		zap.String("match_id", rec.MatchID),
		zap.Bool("is_correct", rec.IsCorrect),
		zap.String("match_type", string(rec.MatchType)))

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := c.budget(context.Background())
		defer cancel()
		if _, err := c.Recompute(ctx); err != nil {
			c.logger.Warn("background threshold recompute failed", zap.Error(err))
		}
	}()
	return rec, nil
}

// GetThresholds returns the active config. A missing or stale config is
// recomputed synchronously within the recompute budget; when that fails the
// last-known-good config, or the safe defaults, are returned.
func (c *Controller) GetThresholds(ctx context.Context) *models.ThresholdConfig {
	now := c.now()
	cur := c.current.Load()
	if cur != nil && !cur.StaleAt(now, c.config.FreshFor) {
		return clone(cur)
	}

	stored, ok, err := c.store.GetThresholdConfig(ctx)
	if err != nil {
		c.logger.Warn("failed to load threshold config", zap.Error(err))
	}
	if ok {
		if !stored.StaleAt(now, c.config.FreshFor) {
			c.current.Store(stored)
			return clone(stored)
		}
		if cur == nil {
			cur = stored
		}
	}

	// Concurrent readers of a stale config share one recomputation.
	v, err, _ := c.group.Do("stale", func() (interface{}, error) {
		rctx, cancel := c.budget(ctx)
		defer cancel()
		return c.Recompute(rctx)
	})
	if err == nil {
		return clone(v.(*models.ThresholdConfig))
	}
	c.logger.Warn("threshold recompute failed, using last known config", zap.Error(err))
	if cur != nil {
		return clone(cur)
	}
	return Defaults(now)
}

// Recompute analyzes the feedback window, activates the result and persists it.
// Recomputations are serialized so the last one to run sees every earlier write.
// A persist failure is logged and the new config stays active in memory.
func (c *Controller) Recompute(ctx context.Context) (*models.ThresholdConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	records, err := c.store.RecentFeedback(ctx, now.Add(-c.config.Window), c.config.Limit)
	if err != nil {
		return nil, err
	}
	analysis := Analyze(records)
	cfg := Retune(analysis, c.config, now.UTC())

	c.current.Store(cfg)
	c.last.Store(analysis)
	if err := c.store.SetThresholdConfig(ctx, cfg); err != nil {
		c.logger.Warn("threshold config not persisted", zap.Error(&matcherr.ThresholdPersistError{Err: err}))
	}
	c.logger.Info("thresholds recomputed",
		zap.Int("feedback", analysis.Total),
		zap.Float64("accuracy", analysis.Accuracy),
		zap.Float64("image_threshold", cfg.ImageThreshold),
		zap.Float64("text_threshold", cfg.TextThreshold),
		zap.Float64("image_weight", cfg.ImageWeight),
		zap.Float64("text_weight", cfg.TextWeight))
	return clone(cfg), nil
}

// LastAnalysis returns the statistics behind the active config, if computed in this process.
func (c *Controller) LastAnalysis() (*Analysis, bool) {
	a := c.last.Load()
	return a, a != nil
}

// Wait blocks until background recomputations started by RecordFeedback finish.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// budget bounds a recomputation by the configured wall-clock limit.
func (c *Controller) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.RecomputeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.RecomputeTimeout)
}

func clone(cfg *models.ThresholdConfig) *models.ThresholdConfig {
	out := *cfg
	return &out
}
