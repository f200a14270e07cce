package feedback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/storage"
)

func testConfig() *config.FeedbackConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return &cfg.Feedback
}

func rec(score float64, correct bool, t models.MatchType) *models.FeedbackRecord {
	return &models.FeedbackRecord{MatchID: "m", IsCorrect: correct, MatchType: t, MatchScore: score}
}

func repeat(n int, score float64, correct bool, t models.MatchType) []*models.FeedbackRecord {
	out := make([]*models.FeedbackRecord, n)
	for i := range out {
		out[i] = rec(score, correct, t)
	}
	return out
}

func join(parts ...[]*models.FeedbackRecord) []*models.FeedbackRecord {
	var out []*models.FeedbackRecord
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestAnalyze_buckets(t *testing.T) {
	records := join(
		repeat(2, 0.55, true, models.MatchText),
		repeat(1, 0.35, true, models.MatchImage),
		repeat(1, 0.58, false, models.MatchHybrid),
		repeat(1, 1.0, true, models.MatchHybrid),
	)
	a := Analyze(records)
	assert.Equal(t, 5, a.Total)
	assert.Equal(t, 4, a.Correct)
	require.Len(t, a.Buckets, 3)
	assert.Equal(t, 0.5, a.Buckets[0].Lower)
	assert.InDelta(t, 2.0/3.0, a.Buckets[0].Accuracy, 1e-9)
	assert.Equal(t, 0.3, a.Buckets[1].Lower)
	assert.Equal(t, 0.9, a.Buckets[2].Lower, "a score of 1.0 falls in the last bucket")
	// 0.3 and 0.9 both reach 1.0; the first seen wins.
	assert.Equal(t, 0.3, a.OptimalThreshold)
	assert.Equal(t, 1, a.ImageTotal)
	assert.Equal(t, 2, a.TextTotal)
	assert.Equal(t, 1.0, a.TextAccuracy)
}

func TestRetune_fewRecordsDefaults(t *testing.T) {
	cfg := testConfig()
	out := Retune(Analyze(repeat(9, 0.9, true, models.MatchImage)), cfg, time.Now())
	assert.Equal(t, 0.3, out.ImageThreshold)
	assert.Equal(t, 0.3, out.TextThreshold)
	assert.Equal(t, 0.4, out.ImageWeight)
	assert.Equal(t, 0.6, out.TextWeight)
	assert.Equal(t, 9, out.BasedOnFeedbackCount)
}

func TestStepOffset(t *testing.T) {
	steps := config.DefaultSteps()
	cases := []struct {
		acc  float64
		want float64
	}{
		{0.1, -0.10},
		{0.3, -0.05},
		{0.49, -0.05},
		{0.5, 0},
		{0.7, 0},
		{0.75, 0.05},
		{0.8, 0.05},
		{0.81, 0.10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StepOffset(c.acc, steps), "accuracy %v", c.acc)
	}
}

func TestRetune_thresholdsClamped(t *testing.T) {
	cfg := testConfig()

	// All correct at 0.35: optimal 0.3, accuracy 1.0 -> +0.10 -> 0.4.
	out := Retune(Analyze(repeat(10, 0.35, true, models.MatchHybrid)), cfg, time.Now())
	assert.Equal(t, 0.4, out.ImageThreshold)
	assert.Equal(t, 0.4, out.TextThreshold)
	assert.Equal(t, 0.3, out.OptimalThreshold)

	// All correct at 0.95: 0.9 + 0.1 is clamped to the 0.4 ceiling.
	out = Retune(Analyze(repeat(12, 0.95, true, models.MatchHybrid)), cfg, time.Now())
	assert.Equal(t, 0.4, out.ImageThreshold)

	// All wrong at 0.15: optimal 0.1 - 0.1 is clamped to the 0.2 floor.
	out = Retune(Analyze(repeat(10, 0.15, false, models.MatchHybrid)), cfg, time.Now())
	assert.Equal(t, 0.2, out.TextThreshold)
	assert.Equal(t, 0.0, out.OverallAccuracy)
}

func TestRetune_modalityWeights(t *testing.T) {
	cfg := testConfig()

	imageStrong := join(repeat(6, 0.5, true, models.MatchImage), repeat(5, 0.5, false, models.MatchText))
	out := Retune(Analyze(imageStrong), cfg, time.Now())
	assert.Equal(t, 0.6, out.ImageWeight)
	assert.Equal(t, 0.4, out.TextWeight)

	textStrong := join(repeat(5, 0.5, true, models.MatchImage), repeat(6, 0.5, true, models.MatchText),
		repeat(1, 0.5, false, models.MatchImage))
	out = Retune(Analyze(textStrong), cfg, time.Now())
	assert.Equal(t, 0.4, out.ImageWeight, "image is not more reliable than text")

	tooFewImage := join(repeat(4, 0.5, true, models.MatchImage), repeat(8, 0.5, true, models.MatchHybrid))
	out = Retune(Analyze(tooFewImage), cfg, time.Now())
	assert.Equal(t, 0.4, out.ImageWeight, "fewer than 5 image records do not count")
}

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	mu         sync.Mutex
	records    []*models.FeedbackRecord
	cfg        *models.ThresholdConfig
	appendErr  error
	setErr     error
	recentErr  error
	recentHits int
}

func (m *memStore) AppendFeedback(_ context.Context, r *models.FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) RecentFeedback(_ context.Context, since time.Time, limit int) ([]*models.FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentHits++
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	var out []*models.FeedbackRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if !m.records[i].Timestamp.Before(since) {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memStore) CountFeedback(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

func (m *memStore) GetThresholdConfig(context.Context) (*models.ThresholdConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return nil, false, nil
	}
	cp := *m.cfg
	return &cp, true, nil
}

func (m *memStore) SetThresholdConfig(_ context.Context, cfg *models.ThresholdConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	cp := *cfg
	m.cfg = &cp
	return nil
}

func TestController_RecordFeedback(t *testing.T) {
	store := &memStore{}
	c := NewController(store, testConfig())
	ctx := context.Background()

	_, err := c.RecordFeedback(ctx, &models.FeedbackRecord{MatchType: models.MatchText})
	assert.ErrorIs(t, err, matcherr.ErrInvalidInput)

	for i := 0; i < 12; i++ {
		r, err := c.RecordFeedback(ctx, rec(0.75, true, models.MatchHybrid))
		require.NoError(t, err)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Timestamp.IsZero())
	}
	c.Wait()

	got := c.GetThresholds(ctx)
	assert.Equal(t, 12, got.BasedOnFeedbackCount)
	assert.Equal(t, 0.4, got.ImageThreshold)
	require.NotNil(t, store.cfg, "recomputed config should be persisted")

	a, ok := c.LastAnalysis()
	require.True(t, ok)
	assert.Equal(t, 12, a.Total)
}

func TestController_RecordFeedback_persistFailure(t *testing.T) {
	store := &memStore{appendErr: errors.New("read-only")}
	c := NewController(store, testConfig())
	_, err := c.RecordFeedback(context.Background(), rec(0.5, true, models.MatchImage))
	assert.ErrorIs(t, err, matcherr.ErrFeedbackPersist)
	c.Wait()
	assert.Equal(t, 0, store.recentHits, "no recompute when nothing was recorded")
}

func TestController_GetThresholds(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	t.Run("fresh stored config is used as is", func(t *testing.T) {
		stored := &models.ThresholdConfig{ImageThreshold: 0.25, TextThreshold: 0.35, ImageWeight: 0.6, TextWeight: 0.4, UpdatedAt: now.Add(-time.Hour)}
		store := &memStore{cfg: stored}
		c := NewController(store, testConfig(), WithClock(clock))
		got := c.GetThresholds(ctx)
		assert.Equal(t, 0.25, got.ImageThreshold)
		assert.Equal(t, 0, store.recentHits)
		c.GetThresholds(ctx)
		assert.Equal(t, 0, store.recentHits, "cached config served without storage round trips")
	})

	t.Run("stale config is recomputed", func(t *testing.T) {
		stored := &models.ThresholdConfig{ImageThreshold: 0.25, UpdatedAt: now.Add(-25 * time.Hour)}
		store := &memStore{cfg: stored}
		c := NewController(store, testConfig(), WithClock(clock))
		got := c.GetThresholds(ctx)
		assert.Equal(t, 1, store.recentHits)
		assert.Equal(t, 0.3, got.ImageThreshold, "no feedback yields defaults")
		assert.Equal(t, now, got.UpdatedAt)
	})

	t.Run("failed recompute falls back to last known good", func(t *testing.T) {
		stored := &models.ThresholdConfig{ImageThreshold: 0.22, UpdatedAt: now.Add(-48 * time.Hour)}
		store := &memStore{cfg: stored, recentErr: errors.New("timeout")}
		c := NewController(store, testConfig(), WithClock(clock))
		assert.Equal(t, 0.22, c.GetThresholds(ctx).ImageThreshold)
	})

	t.Run("failed recompute without history uses defaults", func(t *testing.T) {
		store := &memStore{recentErr: errors.New("timeout")}
		c := NewController(store, testConfig(), WithClock(clock))
		got := c.GetThresholds(ctx)
		assert.Equal(t, 0.3, got.ImageThreshold)
		assert.Equal(t, 0.6, got.TextWeight)
	})

	t.Run("persist failure keeps new config active", func(t *testing.T) {
		store := &memStore{setErr: errors.New("disk full")}
		c := NewController(store, testConfig(), WithClock(clock))
		got := c.GetThresholds(ctx)
		assert.Equal(t, 0.3, got.ImageThreshold)
		c.GetThresholds(ctx)
		assert.Equal(t, 1, store.recentHits)
	})
}

func TestController_windowAndLimit(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{}
	for i := 0; i < 20; i++ {
		r := rec(0.15, false, models.MatchText)
		r.Timestamp = now.Add(-40 * 24 * time.Hour)
		store.records = append(store.records, r)
	}
	cfg := testConfig()
	c := NewController(store, cfg)
	got, err := c.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, got.BasedOnFeedbackCount, "records outside the window are ignored")

	cfg.Limit = 3
	for i := 0; i < 20; i++ {
		store.records = append(store.records, rec(0.5, true, models.MatchText))
		store.records[len(store.records)-1].Timestamp = now
	}
	got, err = c.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got.BasedOnFeedbackCount)
}

func TestController_sqlite(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	c := NewController(store, testConfig())
	for i := 0; i < 10; i++ {
		_, err := c.RecordFeedback(ctx, &models.FeedbackRecord{
			MatchID: fmt.Sprintf("m%d", i), IsCorrect: i < 9, MatchType: models.MatchImage, MatchScore: 0.62,
		})
		require.NoError(t, err)
	}
	c.Wait()
	_, err = c.Recompute(ctx)
	require.NoError(t, err)

	stored, ok, err := store.GetThresholdConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.4, stored.ImageThreshold)
	assert.Equal(t, 0.6, stored.ImageWeight)
	assert.InDelta(t, 0.9, stored.OverallAccuracy, 1e-9)
}

func TestScheduler(t *testing.T) {
	s := NewScheduler(nil)
	c := NewController(&memStore{}, testConfig())
	require.NoError(t, s.ScheduleRefresh(c, "@every 1h"))
	assert.Equal(t, 1, s.Len())
	assert.Error(t, s.Every("not a schedule", "bad", func(context.Context) error { return nil }))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
