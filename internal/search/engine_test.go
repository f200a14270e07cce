package search

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/embedding"
	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/textfeat"
)

// memCorpus is an in-memory storage.Corpus for found items.
type memCorpus struct {
	mu      sync.Mutex
	entries map[models.Modality][]*models.CorpusEntry
	puts    int
	err     error
}

func newMemCorpus() *memCorpus {
	return &memCorpus{entries: make(map[models.Modality][]*models.CorpusEntry)}
}

func (c *memCorpus) add(m models.Modality, e *models.CorpusEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.Modality = m
	if e.Status == "" {
		e.Status = models.StatusAvailable
	}
	c.entries[m] = append(c.entries[m], e)
}

func (c *memCorpus) Corpus(_ context.Context, m models.Modality, coll models.Collection) ([]*models.CorpusEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if coll != models.FoundItems {
		return nil, nil
	}
	out := make([]*models.CorpusEntry, 0, len(c.entries[m]))
	for _, e := range c.entries[m] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (c *memCorpus) PutEmbedding(_ context.Context, id string, m models.Modality, emb []float32, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries[m] {
		if e.ID == id {
			e.Embedding = emb
			e.ModelVersion = version
			c.puts++
		}
	}
	return nil
}

func (c *memCorpus) Descriptions(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries[models.ModalityText] {
		out = append(out, e.Description)
	}
	return out, nil
}

type fixedThresholds struct {
	cfg models.ThresholdConfig
}

func (f *fixedThresholds) GetThresholds(context.Context) *models.ThresholdConfig {
	cfg := f.cfg
	return &cfg
}

func defaultThresholds() *fixedThresholds {
	return &fixedThresholds{cfg: models.ThresholdConfig{
		ImageThreshold: config.DefaultImageThreshold,
		TextThreshold:  config.DefaultTextThreshold,
		ImageWeight:    config.DefaultImageWeight,
		TextWeight:     config.DefaultTextWeight,
	}}
}

func testMatchingConfig() *config.MatchingConfig {
	return &config.MatchingConfig{
		DefaultCollection:  "found_items",
		DefaultMaxResults:  10,
		MaxResultsLimit:    100,
		FallbackFactor:     0.7,
		FallbackMinResults: 3,
		SearchTimeout:      5 * time.Second,
	}
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestEngine(corpus *memCorpus, th ThresholdProvider) (*Engine, *textfeat.Extractor) {
	images := embedding.NewImageEmbedder(embedding.NewMockBackbone(16), 8)
	text := textfeat.NewExtractor(corpus, textfeat.DefaultParams())
	return NewEngine(corpus, images, text, th, testMatchingConfig()), text
}

func TestEngine_Match_invalidInput(t *testing.T) {
	engine, _ := newTestEngine(newMemCorpus(), defaultThresholds())
	_, err := engine.Match(context.Background(), &models.MatchRequest{})
	if !errors.Is(err, matcherr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	zero := 0
	_, err = engine.Match(context.Background(), &models.MatchRequest{Text: "dompet", MaxResults: &zero})
	if !errors.Is(err, matcherr.ErrInvalidInput) {
		t.Errorf("max_results 0: expected ErrInvalidInput, got %v", err)
	}
}

func TestEngine_Match_textScenario(t *testing.T) {
	corpus := newMemCorpus()
	corpus.add(models.ModalityText, &models.CorpusEntry{ID: "w1", Name: "Dompet", Description: "dompet warna hitam berisi kartu"})
	corpus.add(models.ModalityText, &models.CorpusEntry{ID: "u1", Name: "Payung", Description: "payung lipat biru"})
	engine, _ := newTestEngine(corpus, defaultThresholds())

	res, err := engine.Match(context.Background(), &models.MatchRequest{Text: "dompet hitam"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) == 0 || res.Matches[0].ID != "w1" {
		t.Fatalf("expected w1 first, got %+v", res.Matches)
	}
	m := res.Matches[0]
	if m.MatchType != models.MatchText {
		t.Errorf("MatchType = %s, want text", m.MatchType)
	}
	if m.Text == nil || m.Breakdown == nil {
		t.Fatal("text match should carry detail and breakdown")
	}
	if m.Breakdown.TextScore <= 0.3 {
		t.Errorf("text score = %f, want > 0.3", m.Breakdown.TextScore)
	}
	common := strings.Join(m.Text.CommonWords, ",")
	if !strings.Contains(common, "dompet") || !strings.Contains(common, "hitam") {
		t.Errorf("common words = %v", m.Text.CommonWords)
	}
	if m.Rank != 1 || res.ModelVersion == 0 {
		t.Errorf("rank=%d model_version=%d", m.Rank, res.ModelVersion)
	}
	if corpus.puts != 2 {
		t.Errorf("expected lazily filled text embeddings to be stored, puts=%d", corpus.puts)
	}
}

func TestEngine_Match_fallback(t *testing.T) {
	corpus := newMemCorpus()
	// One image entry identical to the query, one moderately similar.
	images := embedding.NewImageEmbedder(embedding.NewMockBackbone(16), 8)
	red := pngBytes(t, color.RGBA{200, 0, 0, 255})
	redEmb, err := images.Extract(context.Background(), red)
	if err != nil {
		t.Fatal(err)
	}
	corpus.add(models.ModalityImage, &models.CorpusEntry{ID: "red", Embedding: redEmb})

	th := defaultThresholds()
	th.cfg.ImageThreshold = 0.99
	engine, _ := newTestEngine(corpus, th)

	res, err := engine.Match(context.Background(), &models.MatchRequest{Images: [][]byte{red}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.FallbackUsed {
		t.Error("fewer than 3 matches should trigger the fallback")
	}
	if !(res.ImageThreshold < 0.99) || !(res.TextThreshold < th.cfg.TextThreshold) {
		t.Errorf("fallback thresholds not lower: %f %f", res.ImageThreshold, res.TextThreshold)
	}
	if !approx(res.ImageThreshold, 0.99*0.7) {
		t.Errorf("ImageThreshold = %f, want %f", res.ImageThreshold, 0.99*0.7)
	}
	if len(res.Matches) != 1 || res.Matches[0].MatchType != models.MatchImage {
		t.Fatalf("matches = %+v", res.Matches)
	}
	if !approx(res.Matches[0].Score, 0.4) {
		t.Errorf("image-only score = %f, want 1.0*0.4", res.Matches[0].Score)
	}
}

func TestEngine_Match_noFallbackWhenEnough(t *testing.T) {
	corpus := newMemCorpus()
	for _, id := range []string{"a", "b", "c", "d"} {
		corpus.add(models.ModalityImage, &models.CorpusEntry{ID: id, Embedding: []float32{1, 1, 1}})
	}
	engine, _ := newTestEngine(corpus, defaultThresholds())
	engine.images = fixedExtractor{vec: []float32{1, 1, 1}}

	two := 2
	res, err := engine.Match(context.Background(), &models.MatchRequest{Images: [][]byte{{1}}, MaxResults: &two})
	if err != nil {
		t.Fatal(err)
	}
	if res.FallbackUsed {
		t.Error("fallback should not run with 4 primary matches")
	}
	if len(res.Matches) != 2 || res.Total != 2 {
		t.Errorf("max_results not applied: %d", len(res.Matches))
	}
	if res.Matches[0].ID != "a" || res.Matches[1].ID != "b" || res.Matches[1].Rank != 2 {
		t.Errorf("ties should keep corpus order: %s %s", res.Matches[0].ID, res.Matches[1].ID)
	}
}

func TestEngine_Match_hybridAndOverrides(t *testing.T) {
	corpus := newMemCorpus()
	corpus.add(models.ModalityImage, &models.CorpusEntry{ID: "w1", Embedding: []float32{1, 0}})
	corpus.add(models.ModalityText, &models.CorpusEntry{ID: "w1", Name: "Dompet", Description: "dompet kulit hitam"})
	corpus.add(models.ModalityText, &models.CorpusEntry{ID: "t2", Name: "Tas", Description: "tas ransel biru"})
	engine, _ := newTestEngine(corpus, defaultThresholds())
	engine.images = fixedExtractor{vec: []float32{1, 0}}

	wi, wt := 1.0, 1.0
	res, err := engine.Match(context.Background(), &models.MatchRequest{
		Text: "dompet kulit hitam", Images: [][]byte{{1}}, ImageWeight: &wi, TextWeight: &wt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageWeight != 0.5 || res.TextWeight != 0.5 {
		t.Errorf("weights not normalized: %f %f", res.ImageWeight, res.TextWeight)
	}
	if len(res.Matches) == 0 || res.Matches[0].MatchType != models.MatchHybrid {
		t.Fatalf("expected hybrid first, got %+v", res.Matches)
	}
	if res.Matches[0].Breakdown.BonusMultiplier <= 1 {
		t.Errorf("hybrid bonus = %f", res.Matches[0].Breakdown.BonusMultiplier)
	}
}

func TestEngine_Match_errors(t *testing.T) {
	corpus := newMemCorpus()
	engine, _ := newTestEngine(corpus, defaultThresholds())

	_, err := engine.Match(context.Background(), &models.MatchRequest{Images: [][]byte{[]byte("not an image")}})
	if !errors.Is(err, matcherr.ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}

	corpus.err = errors.New("disk on fire")
	_, err = engine.Match(context.Background(), &models.MatchRequest{Text: "dompet"})
	if err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("corpus failure should surface, got %v", err)
	}
}

// slowText holds text corpus reads until the context ends.
type slowText struct {
	*memCorpus
}

func (c slowText) Corpus(ctx context.Context, m models.Modality, coll models.Collection) ([]*models.CorpusEntry, error) {
	if m == models.ModalityText {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.memCorpus.Corpus(ctx, m, coll)
}

func TestEngine_Match_searchBudget(t *testing.T) {
	corpus := newMemCorpus()
	corpus.add(models.ModalityImage, &models.CorpusEntry{ID: "w1", Embedding: []float32{1, 0}})
	corpus.add(models.ModalityText, &models.CorpusEntry{ID: "w1", Name: "Dompet", Description: "dompet kulit hitam"})

	cfg := testMatchingConfig()
	cfg.SearchTimeout = 50 * time.Millisecond
	text := textfeat.NewExtractor(corpus, textfeat.DefaultParams())
	engine := NewEngine(slowText{corpus}, fixedExtractor{vec: []float32{1, 0}}, text, defaultThresholds(), cfg)

	res, err := engine.Match(context.Background(), &models.MatchRequest{Text: "dompet kulit hitam", Images: [][]byte{{1}}})
	if err != nil {
		t.Fatalf("image hits should survive a slow text scan: %v", err)
	}
	if !res.Partial {
		t.Error("result should be marked partial")
	}
	if len(res.Matches) != 1 || res.Matches[0].ID != "w1" || res.Matches[0].MatchType != models.MatchImage {
		t.Fatalf("matches = %+v", res.Matches)
	}

	_, err = engine.Match(context.Background(), &models.MatchRequest{Text: "dompet kulit hitam"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("text-only request: expected DeadlineExceeded, got %v", err)
	}

	full, err := NewEngine(corpus, fixedExtractor{vec: []float32{1, 0}}, text, defaultThresholds(), cfg).
		Match(context.Background(), &models.MatchRequest{Text: "dompet kulit hitam", Images: [][]byte{{1}}})
	if err != nil {
		t.Fatal(err)
	}
	if full.Partial {
		t.Error("a complete scan is not partial")
	}
}

func TestEngine_Match_callerCancel(t *testing.T) {
	corpus := newMemCorpus()
	corpus.add(models.ModalityImage, &models.CorpusEntry{ID: "w1", Embedding: []float32{1, 0}})
	engine := NewEngine(slowText{corpus}, fixedExtractor{vec: []float32{1, 0}},
		textfeat.NewExtractor(corpus, textfeat.DefaultParams()), defaultThresholds(), testMatchingConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := engine.Match(ctx, &models.MatchRequest{Text: "dompet", Images: [][]byte{{1}}})
	if err == nil {
		t.Fatal("a request canceled by the caller should fail, not return a partial result")
	}
}

func TestEngine_Match_deterministic(t *testing.T) {
	corpus := newMemCorpus()
	for i, d := range []string{"dompet hitam kulit", "dompet coklat", "kunci motor", "tas hitam"} {
		corpus.add(models.ModalityText, &models.CorpusEntry{ID: string(rune('a' + i)), Description: d})
	}
	engine, _ := newTestEngine(corpus, defaultThresholds())
	first, err := engine.Match(context.Background(), &models.MatchRequest{Text: "dompet hitam"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Match(context.Background(), &models.MatchRequest{Text: "dompet hitam"})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Matches) != len(second.Matches) {
		t.Fatalf("result sizes differ: %d vs %d", len(first.Matches), len(second.Matches))
	}
	for i := range first.Matches {
		if first.Matches[i].ID != second.Matches[i].ID || first.Matches[i].Score != second.Matches[i].Score {
			t.Errorf("result %d differs", i)
		}
	}
}

func TestEngine_DebugTextAndCompare(t *testing.T) {
	corpus := newMemCorpus()
	corpus.add(models.ModalityText, &models.CorpusEntry{ID: "w1", Description: "dompet warna hitam berisi kartu"})
	engine, _ := newTestEngine(corpus, defaultThresholds())

	report, err := engine.DebugText(context.Background(), "Dompet HITAM!!", "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if report.Preprocessed != "dompet hitam" {
		t.Errorf("Preprocessed = %q", report.Preprocessed)
	}
	if len(report.Features) == 0 || len(report.Matches) != 1 {
		t.Fatalf("features=%d matches=%d", len(report.Features), len(report.Matches))
	}
	if !approx(report.Matches[0].Jaccard, 0.5) {
		t.Errorf("Jaccard = %f, want 0.5", report.Matches[0].Jaccard)
	}

	cmp := engine.CompareTexts(context.Background(), "dompet hitam", "dompet hitam")
	if !approx(cmp.WordOverlapRatio, 1) || !approx(cmp.Jaccard, 1) {
		t.Errorf("identical texts: %+v", cmp)
	}
	if cmp.AdjustedSimilarity < 0.99 {
		t.Errorf("identical texts adjusted = %f", cmp.AdjustedSimilarity)
	}
}

type fixedExtractor struct {
	vec []float32
}

func (f fixedExtractor) Extract(context.Context, []byte) ([]float32, error) { return f.vec, nil }

func (f fixedExtractor) ExtractMulti(context.Context, [][]byte) ([]float32, error) {
	return f.vec, nil
}

func (f fixedExtractor) Dimensions() int { return len(f.vec) }
