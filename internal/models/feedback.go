package models

import (
	"strings"
	"time"

	"github.com/hyperjump/temuan/internal/matcherr"
)

// FeedbackRecord is ground truth about a previously returned match. Immutable once written.
type FeedbackRecord struct {
	ID           string    `json:"id"`
	MatchID      string    `json:"match_id"`
	IsCorrect    bool      `json:"is_correct"`
	MatchType    MatchType `json:"match_type"`
	MatchScore   float64   `json:"match_score"`
	ItemCategory string    `json:"item_category,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks a record before it is written.
func (f *FeedbackRecord) Validate() error {
	if strings.TrimSpace(f.MatchID) == "" {
		return matcherr.NewInvalidInput("match_id", "cannot be empty")
	}
	if !f.MatchType.Valid() {
		return matcherr.NewInvalidInput("match_type", "must be image, text or hybrid")
	}
	if !(f.MatchScore >= 0 && f.MatchScore <= 1) {
		return matcherr.NewInvalidInput("match_score", "must be between 0 and 1")
	}
	return nil
}

// ThresholdConfig is the controller's output consumed by search and fusion.
type ThresholdConfig struct {
	ImageThreshold       float64   `json:"image_threshold"`
	TextThreshold        float64   `json:"text_threshold"`
	ImageWeight          float64   `json:"hybrid_weight_image"`
	TextWeight           float64   `json:"hybrid_weight_text"`
	OptimalThreshold     float64   `json:"optimal_threshold"`
	OverallAccuracy      float64   `json:"overall_accuracy"`
	BasedOnFeedbackCount int       `json:"based_on_feedback_count"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// StaleAt reports whether the config is older than freshFor at now.
func (c *ThresholdConfig) StaleAt(now time.Time, freshFor time.Duration) bool {
	return c.UpdatedAt.IsZero() || now.Sub(c.UpdatedAt) > freshFor
}
