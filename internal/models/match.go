package models

import (
	"strings"

	"github.com/hyperjump/temuan/internal/matcherr"
)

// MatchType says which modalities produced a match.
type MatchType string

const (
	MatchImage  MatchType = "image"
	MatchText   MatchType = "text"
	MatchHybrid MatchType = "hybrid"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	return t == MatchImage || t == MatchText || t == MatchHybrid
}

// TextDetail explains a text score.
type TextDetail struct {
	RawScore     float64  `json:"raw_score"`
	WordOverlap  float64  `json:"word_overlap"`
	ContextScore float64  `json:"context_score"`
	CommonWords  []string `json:"common_words"`
}

// Breakdown explains a fused score.
type Breakdown struct {
	ImageScore      float64 `json:"image_score"`
	TextScore       float64 `json:"text_score"`
	ImageComponent  float64 `json:"image_component"`
	TextComponent   float64 `json:"text_component"`
	RawSum          float64 `json:"raw_sum"`
	BonusMultiplier float64 `json:"bonus_multiplier"`
	FinalScore      float64 `json:"final_score"`
}

// Match is a single ranked candidate for a query.
type Match struct {
	ID          string      `json:"id"`
	Score       float64     `json:"score"`
	MatchType   MatchType   `json:"match_type"`
	Name        string      `json:"item_name,omitempty"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Text        *TextDetail `json:"text_detail,omitempty"`
	Breakdown   *Breakdown  `json:"score_breakdown,omitempty"`
	Rank        int         `json:"rank"`
}

// MatchRequest is a matching query. Nil overrides fall back to the controller's values.
type MatchRequest struct {
	Text           string     `json:"text,omitempty"`
	Images         [][]byte   `json:"images,omitempty"`
	Collection     Collection `json:"collection,omitempty"`
	ImageThreshold *float64   `json:"image_threshold,omitempty"`
	TextThreshold  *float64   `json:"text_threshold,omitempty"`
	ImageWeight    *float64   `json:"image_weight,omitempty"`
	TextWeight     *float64   `json:"text_weight,omitempty"`
	MaxResults     *int       `json:"max_results,omitempty"`
}

// HasText reports whether the request carries query text.
func (r *MatchRequest) HasText() bool {
	return strings.TrimSpace(r.Text) != ""
}

// HasImage reports whether the request carries at least one image.
func (r *MatchRequest) HasImage() bool {
	for _, img := range r.Images {
		if len(img) > 0 {
			return true
		}
	}
	return false
}

// Validate checks the request contract and fills defaults for collection and max_results.
// maxLimit caps max_results.
func (r *MatchRequest) Validate(defaultCollection Collection, defaultMax, maxLimit int) error {
	if !r.HasText() && !r.HasImage() {
		return matcherr.NewInvalidInput("", "either image or text is required")
	}
	if r.Collection == "" {
		r.Collection = defaultCollection
	}
	if !r.Collection.Valid() {
		return matcherr.NewInvalidInput("collection", "must be found_items or lost_items")
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"image_threshold", r.ImageThreshold},
		{"text_threshold", r.TextThreshold},
		{"image_weight", r.ImageWeight},
		{"text_weight", r.TextWeight},
	} {
		if f.v != nil && !(*f.v >= 0 && *f.v <= 1) {
			return matcherr.NewInvalidInput(f.name, "must be between 0 and 1")
		}
	}
	if r.ImageWeight != nil && r.TextWeight != nil && *r.ImageWeight+*r.TextWeight <= 0 {
		return matcherr.NewInvalidInput("image_weight", "weights cannot both be zero")
	}
	if r.MaxResults == nil {
		n := defaultMax
		r.MaxResults = &n
	}
	if *r.MaxResults < 1 {
		return matcherr.NewInvalidInput("max_results", "must be at least 1")
	}
	if maxLimit > 0 && *r.MaxResults > maxLimit {
		*r.MaxResults = maxLimit
	}
	return nil
}

// MatchResult is the engine's answer to a MatchRequest.
type MatchResult struct {
	Matches        []*Match   `json:"matches"`
	Total          int        `json:"total"`
	Collection     Collection `json:"collection"`
	FallbackUsed   bool       `json:"fallback_used"`
	// Partial is set when one modality ran out of search time and only the
	// other modality's hits were fused.
	Partial        bool       `json:"partial,omitempty"`
	ImageThreshold float64    `json:"image_threshold"`
	TextThreshold  float64    `json:"text_threshold"`
	ImageWeight    float64    `json:"image_weight"`
	TextWeight     float64    `json:"text_weight"`
	ModelVersion   int64      `json:"text_model_version"`
	QueryTime      int64      `json:"query_time_ms"`
}
