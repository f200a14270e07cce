package search

import (
	"context"
	"math"
	"sort"

	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/textfeat"
	"github.com/hyperjump/temuan/internal/vector"
)

// Feature is one non-zero term of a text vector.
type Feature struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// DebugMatch is a text match with its token Jaccard similarity.
type DebugMatch struct {
	*models.Match
	Jaccard float64 `json:"jaccard"`
}

// TextReport explains how a query is seen by the text path.
type TextReport struct {
	Query        string        `json:"query"`
	Preprocessed string        `json:"preprocessed"`
	Tokens       []string      `json:"tokens"`
	Features     []Feature     `json:"features"`
	ModelVersion int64         `json:"model_version"`
	Dimensions   int           `json:"dimensions"`
	Matches      []*DebugMatch `json:"matches"`
}

// TextComparison explains the similarity of two texts.
type TextComparison struct {
	RawSimilarity      float64  `json:"raw_similarity"`
	AdjustedSimilarity float64  `json:"adjusted_similarity"`
	WordOverlapRatio   float64  `json:"word_overlap_ratio"`
	Jaccard            float64  `json:"jaccard_similarity"`
	CommonWords        []string `json:"common_words"`
	Preprocessed       []string `json:"preprocessed"`
}

// maxFeatures caps the features listed in a TextReport.
const maxFeatures = 50

// DebugText reports the preprocessing, features and top text matches of query
// with no threshold applied.
func (e *Engine) DebugText(ctx context.Context, query string, collection models.Collection, limit int) (*TextReport, error) {
	if collection == "" {
		collection = models.Collection(e.config.DefaultCollection)
	}
	vec, model := e.text.Vectorize(ctx, query)
	tok := e.text.Tokenizer()
	report := &TextReport{Query: query, Features: []Feature{}, Matches: []*DebugMatch{}}
	if model != nil {
		tok = model.Tokenizer()
		report.ModelVersion = model.Version
		report.Dimensions = model.Dimensions()
		report.Features = topFeatures(vec, model)
	}
	report.Tokens = tok.Tokens(query)
	report.Preprocessed = tok.Preprocess(query)

	cands, err := e.gather(ctx, collection, nil, NewTextQuery(query, vec, tok), model, 0, 0)
	if err != nil {
		return nil, err
	}
	queryTokens := tok.TokenSet(query)
	for i, m := range Fuse(nil, cands.text, 0, 1) {
		if limit > 0 && i >= limit {
			break
		}
		m.Rank = i + 1
		report.Matches = append(report.Matches, &DebugMatch{
			Match:   m,
			Jaccard: jaccard(queryTokens, tok.TokenSet(m.Description)),
		})
	}
	return report, nil
}

// CompareTexts scores two texts against each other with the current model.
// The adjusted score is 0.6 cosine + 0.3 overlap ratio + 0.1 Jaccard, capped at 1.
func (e *Engine) CompareTexts(ctx context.Context, a, b string) *TextComparison {
	va, model := e.text.Vectorize(ctx, a)
	vb, _ := e.text.Vectorize(ctx, b)
	tok := e.text.Tokenizer()
	if model != nil {
		tok = model.Tokenizer()
	}
	sa, sb := tok.TokenSet(a), tok.TokenSet(b)
	common := commonWords(sa, sb)
	overlap := float64(len(common)) / math.Max(1, float64(max(len(sa), len(sb))))
	j := jaccard(sa, sb)
	raw := math.Max(0, vector.Cosine(va, vb))
	return &TextComparison{
		RawSimilarity:      raw,
		AdjustedSimilarity: math.Min(1, 0.6*raw+0.3*overlap+0.1*j),
		WordOverlapRatio:   overlap,
		Jaccard:            j,
		CommonWords:        common,
		Preprocessed:       []string{tok.Preprocess(a), tok.Preprocess(b)},
	}
}

func topFeatures(vec []float32, model *textfeat.Model) []Feature {
	out := make([]Feature, 0)
	for i, w := range vec {
		if w != 0 && i < len(model.Terms) {
			out = append(out, Feature{Term: model.Terms[i], Weight: float64(w)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if len(out) > maxFeatures {
		out = out[:maxFeatures]
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
