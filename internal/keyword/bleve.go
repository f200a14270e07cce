package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/temuan/internal/models"
)

const (
	defaultLimit     = 20
	defaultFuzziness = 1
)

var textFields = []string{"item_name", "description", "category", "location"}

// BleveIndex implements Catalog using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is reused as is; remove the directory after changing the
// mapping to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and tokenizes without stemming, which would
	// mangle Indonesian words.
	textFieldMapping.Analyzer = standard.Name
	for _, f := range textFields {
		docMapping.AddFieldMappingsAt(f, textFieldMapping)
	}
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	keywordFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("collection", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("status", keywordFieldMapping)
	im.AddDocumentMapping("item", docMapping)
	im.DefaultType = "item"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces the catalog entry for item.
func (b *BleveIndex) Index(_ context.Context, item *models.Item) error {
	doc := map[string]interface{}{
		"item_name":   item.Name,
		"description": item.Description,
		"category":    item.Category,
		"location":    item.Location,
		"collection":  string(item.Collection),
		"status":      string(item.Status),
	}
	if err := b.index.Index(item.ID, doc); err != nil {
		return fmt.Errorf("index item %s: %w", item.ID, err)
	}
	return nil
}

// Search returns up to limit items matching query.
// With NameBoost > 1, item_name and the other text fields are queried
// separately and merged additively, then scaled by term coverage.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	o := SearchOptions{}
	if opts != nil {
		o = *opts
	}
	if o.FuzzyEnabled && o.Fuzziness <= 0 {
		o.Fuzziness = defaultFuzziness
	}
	if len(tokenizeQuery(query)) == 0 {
		return []*Result{}, nil
	}

	if o.NameBoost <= 1.0 {
		return b.searchSingle(ctx, query, limit, o)
	}
	return b.searchWithBoost(ctx, query, limit, o)
}

// searchSingle runs one query over all text fields.
func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit int, o SearchOptions) ([]*Result, error) {
	hits, err := b.run(ctx, b.fieldQuery(query, "", o), limit, o)
	if err != nil {
		return nil, err
	}
	out := make([]*Result, 0, len(hits))
	for id, score := range hits {
		out = append(out, &Result{ID: id, Score: score})
	}
	sortResults(out)
	return out, nil
}

// searchWithBoost merges name and body scores:
// score = (name*boost + body) * (matchedTerms/totalTerms)^2.
func (b *BleveIndex) searchWithBoost(ctx context.Context, query string, limit int, o SearchOptions) ([]*Result, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)

	nameScores, err := b.run(ctx, b.fieldQuery(query, "item_name", o), reqSize, o)
	if err != nil {
		return nil, fmt.Errorf("name search: %w", err)
	}
	bodyQueries := make([]blevequery.Query, 0, len(textFields)-1)
	for _, f := range textFields[1:] {
		bodyQueries = append(bodyQueries, b.fieldQuery(query, f, o))
	}
	bodyScores, err := b.run(ctx, bleve.NewDisjunctionQuery(bodyQueries...), reqSize, o)
	if err != nil {
		return nil, fmt.Errorf("body search: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		for _, term := range terms {
			hits, err := b.run(ctx, b.fieldQuery(term, "", o), reqSize, o)
			if err != nil {
				return nil, fmt.Errorf("term coverage: %w", err)
			}
			for id := range hits {
				coverage[id]++
			}
		}
	}

	ids := make(map[string]struct{}, len(nameScores)+len(bodyScores))
	for id := range nameScores {
		ids[id] = struct{}{}
	}
	for id := range bodyScores {
		ids[id] = struct{}{}
	}

	out := make([]*Result, 0, len(ids))
	for id := range ids {
		score := nameScores[id]*o.NameBoost + bodyScores[id]
		if len(terms) > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		out = append(out, &Result{ID: id, Score: score})
	}
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// run executes q restricted by the collection and status filters.
func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int, o SearchOptions) (map[string]float64, error) {
	conj := []blevequery.Query{q}
	if o.Collection != "" {
		tq := bleve.NewTermQuery(string(o.Collection))
		tq.SetField("collection")
		conj = append(conj, tq)
	}
	if o.Status != "" {
		tq := bleve.NewTermQuery(string(o.Status))
		tq.SetField("status")
		conj = append(conj, tq)
	}
	if len(conj) > 1 {
		q = bleve.NewConjunctionQuery(conj...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}
	return scores, nil
}

// fieldQuery matches query against field, or all text fields when field is empty.
func (b *BleveIndex) fieldQuery(query, field string, o SearchOptions) blevequery.Query {
	if o.FuzzyEnabled {
		return buildFuzzyQuery(query, o.Fuzziness, field)
	}
	if field != "" {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	fields := make([]blevequery.Query, 0, len(textFields))
	for _, f := range textFields {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(f)
		fields = append(fields, mq)
	}
	return bleve.NewDisjunctionQuery(fields...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery ORs one FuzzyQuery per term. An empty field spans all text fields.
func buildFuzzyQuery(query string, fuzziness int, field string) blevequery.Query {
	fields := textFields
	if field != "" {
		fields = []string{field}
	}
	var queries []blevequery.Query
	for _, term := range tokenizeQuery(query) {
		for _, f := range fields {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			fq.SetField(f)
			queries = append(queries, fq)
		}
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func sortResults(rs []*Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].ID < rs[j].ID
	})
}

// Delete removes the entry for id.
func (b *BleveIndex) Delete(_ context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the number of indexed items.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
