package textfeat

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrEmptyVocabulary is returned by Fit when document-frequency pruning leaves no terms.
var ErrEmptyVocabulary = errors.New("no terms remain after pruning")

// Params controls vocabulary construction.
type Params struct {
	NGramMin    int
	NGramMax    int
	MinDF       int
	MaxDF       float64
	MaxFeatures int
}

// DefaultParams returns unigram..trigram, min_df 1, max_df 0.90, 20000 features.
func DefaultParams() Params {
	return Params{NGramMin: 1, NGramMax: 3, MinDF: 1, MaxDF: 0.90, MaxFeatures: 20000}
}

// Model is one fitted, immutable version of the term-weighting vocabulary.
// Embeddings are comparable only between equal Version values.
type Model struct {
	Version     int64     `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	NGramMin    int       `json:"ngram_min"`
	NGramMax    int       `json:"ngram_max"`
	Terms       []string  `json:"terms"`
	IDF         []float64 `json:"idf"`
	Stopwords   []string  `json:"stopwords"`
	DocCount    int       `json:"doc_count"`
	FittedAt    time.Time `json:"fitted_at"`

	index map[string]int
	tok   *Tokenizer
}

// Dimensions returns the embedding length produced by this model.
func (m *Model) Dimensions() int {
	return len(m.Terms)
}

// Tokenizer returns the tokenizer the model was fit with.
func (m *Model) Tokenizer() *Tokenizer {
	return m.tok
}

// Fit builds a model from docs. Terms are n-grams of filtered tokens, weighted by
// sublinear tf (1 + ln tf) times smooth idf (ln((1+n)/(1+df)) + 1).
func Fit(docs []string, tok *Tokenizer, p Params) (*Model, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("cannot fit on an empty corpus")
	}
	if p.NGramMin < 1 {
		p.NGramMin = 1
	}
	if p.NGramMax < p.NGramMin {
		p.NGramMax = p.NGramMin
	}

	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, g := range NGrams(tok.Tokens(doc), p.NGramMin, p.NGramMax) {
			tf[g]++
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			df[g]++
		}
	}

	n := len(docs)
	maxCount := p.MaxDF * float64(n)
	terms := make([]string, 0, len(df))
	for term, d := range df {
		if d < p.MinDF || float64(d) > maxCount {
			continue
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return nil, ErrEmptyVocabulary
	}

	if p.MaxFeatures > 0 && len(terms) > p.MaxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			if tf[terms[i]] != tf[terms[j]] {
				return tf[terms[i]] > tf[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:p.MaxFeatures]
	}
	sort.Strings(terms)

	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	m := &Model{
		NGramMin:  p.NGramMin,
		NGramMax:  p.NGramMax,
		Terms:     terms,
		IDF:       idf,
		Stopwords: tok.Stopwords(),
		DocCount:  n,
		FittedAt:  time.Now().UTC(),
		tok:       tok,
	}
	m.buildIndex()
	return m, nil
}

// Restore rebuilds the lookup tables of a model decoded from storage.
func (m *Model) Restore() error {
	if len(m.Terms) != len(m.IDF) {
		return fmt.Errorf("model %d: %d terms but %d idf weights", m.Version, len(m.Terms), len(m.IDF))
	}
	m.tok = NewTokenizer(m.Stopwords)
	m.buildIndex()
	return nil
}

func (m *Model) buildIndex() {
	m.index = make(map[string]int, len(m.Terms))
	for i, t := range m.Terms {
		m.index[t] = i
	}
}

// Transform returns the L2-normalized tf-idf vector of text. Text with no
// known terms yields a zero vector of Dimensions() length.
func (m *Model) Transform(text string) []float32 {
	vec := make([]float32, len(m.Terms))
	counts := make(map[int]int)
	for _, g := range NGrams(m.tok.Tokens(text), m.NGramMin, m.NGramMax) {
		if i, ok := m.index[g]; ok {
			counts[i]++
		}
	}
	var sum float64
	for i, c := range counts {
		w := (1 + math.Log(float64(c))) * m.IDF[i]
		vec[i] = float32(w)
		sum += w * w
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range counts {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Fingerprint identifies the inputs a model depends on besides the live corpus.
// A model whose fingerprint differs from the current one must be refit.
func Fingerprint(stopwords, seed []string, p Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%g|%d\n", p.NGramMin, p.NGramMax, p.MinDF, p.MaxDF, p.MaxFeatures)
	for _, w := range normalizeWords(stopwords) {
		h.Write([]byte(w))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, d := range seed {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
