// Package textfeat turns item descriptions into term-weighted vectors.
package textfeat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+|www\.\S+`)
	punctPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	numPattern   = regexp.MustCompile(`\b\d+\b`)
)

// minTokenLen is the shortest token kept, in runes.
const minTokenLen = 3

// Tokenizer normalizes text and filters stopwords. It is immutable after construction.
type Tokenizer struct {
	stop  map[string]struct{}
	words []string
}

// NewTokenizer builds a tokenizer over the given stopwords.
func NewTokenizer(stopwords []string) *Tokenizer {
	words := normalizeWords(stopwords)
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[w] = struct{}{}
	}
	return &Tokenizer{stop: stop, words: words}
}

// Stopwords returns the sorted stopword list.
func (t *Tokenizer) Stopwords() []string {
	out := make([]string, len(t.words))
	copy(out, t.words)
	return out
}

// Tokens returns the filtered tokens of text in order.
// URLs become "url" and standalone numbers become "num".
func (t *Tokenizer) Tokens(text string) []string {
	if text == "" {
		return nil
	}
	s := strings.ToLower(text)
	s = urlPattern.ReplaceAllString(s, " url ")
	s = punctPattern.ReplaceAllString(s, " ")
	s = numPattern.ReplaceAllString(s, " num ")

	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenLen {
			continue
		}
		if _, ok := t.stop[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Preprocess returns the normalized form of text: filtered tokens joined by single spaces.
// Preprocess(Preprocess(s)) == Preprocess(s).
func (t *Tokenizer) Preprocess(text string) string {
	return strings.Join(t.Tokens(text), " ")
}

// TokenSet returns the distinct tokens of text.
func (t *Tokenizer) TokenSet(text string) map[string]struct{} {
	tokens := t.Tokens(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// NGrams expands tokens into all n-grams with minN <= n <= maxN, joined by a space.
func NGrams(tokens []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
