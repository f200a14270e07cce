// Package search runs per-modality similarity search and fuses the results.
package search

import (
	"math"
	"sort"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/vector"
)

// maxBonus caps the agreement bonus at +50%.
const maxBonus = 0.5

// NormalizeWeights scales wi and wt to sum to 1. Non-positive totals fall back to the defaults.
func NormalizeWeights(wi, wt float64) (float64, float64) {
	total := wi + wt
	if total <= 0 || math.IsNaN(total) {
		return config.DefaultImageWeight, config.DefaultTextWeight
	}
	return wi / total, wt / total
}

// BonusMultiplier rewards items both modalities agree on.
func BonusMultiplier(imageScore, textScore float64) float64 {
	return 1 + math.Min(maxBonus, imageScore*textScore*2)
}

// Fuse merges image and text matches into one list sorted by fused score.
// Items found by one modality are scored by that modality's weight alone;
// items found by both get the weighted sum times the bonus multiplier, capped at 1.
// Equal scores keep first-seen order, image matches first.
func Fuse(imageHits []vector.Hit, textHits []TextHit, wi, wt float64) []*models.Match {
	wi, wt = NormalizeWeights(wi, wt)

	byID := make(map[string]*models.Match, len(imageHits)+len(textHits))
	order := make([]*models.Match, 0, len(imageHits)+len(textHits))

	for _, h := range imageHits {
		if _, dup := byID[h.Entry.ID]; dup {
			continue
		}
		m := newMatch(h.Entry, models.MatchImage)
		m.Breakdown = &models.Breakdown{
			ImageScore:      h.Score,
			ImageComponent:  h.Score * wi,
			RawSum:          h.Score * wi,
			BonusMultiplier: 1,
		}
		byID[h.Entry.ID] = m
		order = append(order, m)
	}

	for _, h := range textHits {
		detail := h.Detail
		if m, ok := byID[h.Entry.ID]; ok {
			if m.MatchType != models.MatchImage {
				continue
			}
			b := m.Breakdown
			b.TextScore = h.Score
			b.TextComponent = h.Score * wt
			b.RawSum = b.ImageComponent + b.TextComponent
			b.BonusMultiplier = BonusMultiplier(b.ImageScore, h.Score)
			m.MatchType = models.MatchHybrid
			m.Text = &detail
			continue
		}
		m := newMatch(h.Entry, models.MatchText)
		m.Text = &detail
		m.Breakdown = &models.Breakdown{
			TextScore:       h.Score,
			TextComponent:   h.Score * wt,
			RawSum:          h.Score * wt,
			BonusMultiplier: 1,
		}
		byID[h.Entry.ID] = m
		order = append(order, m)
	}

	for _, m := range order {
		b := m.Breakdown
		b.FinalScore = math.Min(1, b.RawSum*b.BonusMultiplier)
		m.Score = b.FinalScore
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].Score > order[j].Score })
	return order
}

func newMatch(e *models.CorpusEntry, t models.MatchType) *models.Match {
	return &models.Match{
		ID:          e.ID,
		MatchType:   t,
		Name:        e.Name,
		Description: e.Description,
		Category:    e.Category,
	}
}
