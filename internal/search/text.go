package search

import (
	"context"
	"sort"
	"strings"

	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/textfeat"
	"github.com/hyperjump/temuan/internal/vector"
)

// maxCommonWords caps the shared tokens reported per text match.
const maxCommonWords = 10

// TextScoring weighs cosine similarity against lexical overlap.
type TextScoring struct {
	CosineWeight  float64
	OverlapWeight float64
	// ContextBonus is added when the item name appears in the query.
	ContextBonus float64
}

// DefaultTextScoring returns 0.6 cosine, 0.3 overlap, 0.15 name bonus.
func DefaultTextScoring() TextScoring {
	return TextScoring{CosineWeight: 0.6, OverlapWeight: 0.3, ContextBonus: 0.15}
}

// TextHit is a text candidate with its adjusted score.
type TextHit struct {
	Entry  *models.CorpusEntry
	Score  float64
	Detail models.TextDetail
}

// TextQuery is a vectorized text query.
type TextQuery struct {
	Raw    string
	Vector []float32
	Tokens map[string]struct{}
}

// NewTextQuery tokenizes raw with tok.
func NewTextQuery(raw string, vec []float32, tok *textfeat.Tokenizer) *TextQuery {
	return &TextQuery{Raw: raw, Vector: vec, Tokens: tok.TokenSet(raw)}
}

// FindText scores every searchable entry against q and returns those whose
// adjusted score is at least threshold, best first. Equal scores keep corpus order.
func FindText(ctx context.Context, q *TextQuery, corpus []*models.CorpusEntry, tok *textfeat.Tokenizer, threshold float64, scoring TextScoring) ([]TextHit, error) {
	lowerQuery := strings.ToLower(q.Raw)
	hits := make([]TextHit, 0)
	for i, e := range corpus {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if e == nil || len(e.Embedding) == 0 || !e.Status.Searchable() {
			continue
		}
		raw := vector.Cosine(q.Vector, e.Embedding)
		if raw < 0 {
			raw = 0
		}
		common := commonWords(q.Tokens, tok.TokenSet(e.Description))
		overlap := 0.0
		if len(q.Tokens) > 0 {
			overlap = float64(len(common)) / float64(len(q.Tokens))
		}
		contextScore := 0.0
		if name := strings.ToLower(strings.TrimSpace(e.Name)); name != "" && strings.Contains(lowerQuery, name) {
			contextScore = scoring.ContextBonus
		}
		score := scoring.CosineWeight*raw + scoring.OverlapWeight*overlap + contextScore
		if score > 1 {
			score = 1
		}
		if score < threshold {
			continue
		}
		if len(common) > maxCommonWords {
			common = common[:maxCommonWords]
		}
		hits = append(hits, TextHit{
			Entry: e,
			Score: score,
			Detail: models.TextDetail{
				RawScore:     raw,
				WordOverlap:  overlap,
				ContextScore: contextScore,
				CommonWords:  common,
			},
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// commonWords returns the sorted intersection of a and b.
func commonWords(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for w := range a {
		if _, ok := b[w]; ok {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
