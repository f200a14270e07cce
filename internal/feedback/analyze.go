// Package feedback turns match feedback into thresholds and fusion weights.
package feedback

import (
	"time"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/pkg/utils"
)

// bucketCount splits [0,1] into buckets of width 0.1.
const bucketCount = 10

// Bucket is the accuracy of feedback whose match score fell in [Lower, Lower+0.1).
type Bucket struct {
	Lower    float64 `json:"lower"`
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Analysis summarizes a feedback window.
type Analysis struct {
	Total            int      `json:"total"`
	Correct          int      `json:"correct"`
	Accuracy         float64  `json:"overall_accuracy"`
	OptimalThreshold float64  `json:"optimal_threshold"`
	Buckets          []Bucket `json:"buckets"`
	ImageTotal       int      `json:"image_total"`
	ImageAccuracy    float64  `json:"image_accuracy"`
	TextTotal        int      `json:"text_total"`
	TextAccuracy     float64  `json:"text_accuracy"`
}

// Analyze computes accuracy statistics over records. Buckets are listed in the
// order they were first seen in records; the best bucket keeps the earliest on ties.
func Analyze(records []*models.FeedbackRecord) *Analysis {
	a := &Analysis{Buckets: []Bucket{}}
	index := make(map[int]int, bucketCount)
	imageCorrect, textCorrect := 0, 0

	for _, r := range records {
		a.Total++
		if r.IsCorrect {
			a.Correct++
		}
		b := bucketOf(r.MatchScore)
		pos, ok := index[b]
		if !ok {
			pos = len(a.Buckets)
			index[b] = pos
			a.Buckets = append(a.Buckets, Bucket{Lower: float64(b) / bucketCount})
		}
		a.Buckets[pos].Total++
		if r.IsCorrect {
			a.Buckets[pos].Correct++
		}

		switch r.MatchType {
		case models.MatchImage:
			a.ImageTotal++
			if r.IsCorrect {
				imageCorrect++
			}
		case models.MatchText:
			a.TextTotal++
			if r.IsCorrect {
				textCorrect++
			}
		}
	}

	a.Accuracy = ratio(a.Correct, a.Total)
	a.ImageAccuracy = ratio(imageCorrect, a.ImageTotal)
	a.TextAccuracy = ratio(textCorrect, a.TextTotal)

	best := -1.0
	for i := range a.Buckets {
		b := &a.Buckets[i]
		b.Accuracy = ratio(b.Correct, b.Total)
		if b.Accuracy > best {
			best = b.Accuracy
			a.OptimalThreshold = b.Lower
		}
	}
	return a
}

// Retune derives a threshold config from an analysis. Windows smaller than
// cfg.MinRecords yield the safe defaults.
func Retune(a *Analysis, cfg *config.FeedbackConfig, now time.Time) *models.ThresholdConfig {
	out := Defaults(now)
	out.BasedOnFeedbackCount = a.Total
	if a.Total < cfg.MinRecords {
		return out
	}

	threshold := utils.Round(utils.Clamp(a.OptimalThreshold+StepOffset(a.Accuracy, cfg.Steps),
		cfg.ThresholdFloor, cfg.ThresholdCeiling), 4)
	out.ImageThreshold = threshold
	out.TextThreshold = threshold
	out.OptimalThreshold = a.OptimalThreshold
	out.OverallAccuracy = a.Accuracy

	imageReliable := a.ImageTotal >= cfg.MinModalityRecords && a.ImageAccuracy > cfg.ReliableAccuracy
	textCounted := a.TextTotal >= cfg.MinModalityRecords
	if imageReliable && (!textCounted || a.ImageAccuracy > a.TextAccuracy) {
		out.ImageWeight, out.TextWeight = 0.6, 0.4
	}
	return out
}

// StepOffset returns the offset of the first rule matching accuracy, or 0.
func StepOffset(accuracy float64, steps []config.StepRule) float64 {
	for _, s := range steps {
		switch s.Op {
		case "below":
			if accuracy < s.Bound {
				return s.Offset
			}
		case "above":
			if accuracy > s.Bound {
				return s.Offset
			}
		}
	}
	return 0
}

// Defaults returns the safe configuration used before enough feedback exists.
func Defaults(now time.Time) *models.ThresholdConfig {
	return &models.ThresholdConfig{
		ImageThreshold: config.DefaultImageThreshold,
		TextThreshold:  config.DefaultTextThreshold,
		ImageWeight:    config.DefaultImageWeight,
		TextWeight:     config.DefaultTextWeight,
		UpdatedAt:      now,
	}
}

func bucketOf(score float64) int {
	b := int(score * bucketCount)
	if b < 0 {
		return 0
	}
	if b >= bucketCount {
		return bucketCount - 1
	}
	return b
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
