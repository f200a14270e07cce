package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/temuan/internal/models"
	"github.com/hyperjump/temuan/internal/textfeat"
)

func TestFindText_scoring(t *testing.T) {
	tok := textfeat.NewTokenizer(nil)
	corpus := []*models.CorpusEntry{
		{ID: "a", Status: models.StatusAvailable, Name: "Dompet", Description: "dompet hitam", Embedding: []float32{1, 0}},
		{ID: "b", Status: models.StatusAvailable, Name: "", Description: "tas hitam", Embedding: []float32{0, 1}},
		{ID: "c", Status: models.StatusClaimed, Name: "Dompet", Description: "dompet hitam", Embedding: []float32{1, 0}},
	}
	q := NewTextQuery("Dompet hitam", []float32{1, 0}, tok)

	hits, err := FindText(context.Background(), q, corpus, tok, 0, DefaultTextScoring())
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("claimed entry must be skipped, got %d hits", len(hits))
	}
	if hits[0].Entry.ID != "a" || hits[0].Score != 1 {
		t.Errorf("a should be capped at 1, got %s %f", hits[0].Entry.ID, hits[0].Score)
	}
	if hits[0].Detail.ContextScore != 0.15 || hits[0].Detail.RawScore != 1 {
		t.Errorf("detail = %+v", hits[0].Detail)
	}
	b := hits[1]
	if b.Detail.ContextScore != 0 {
		t.Error("an empty item name must not earn the context bonus")
	}
	if !approx(b.Detail.WordOverlap, 0.5) || !approx(b.Score, 0.15) {
		t.Errorf("b overlap=%f score=%f, want 0.5 and 0.15", b.Detail.WordOverlap, b.Score)
	}
	if strings.Join(b.Detail.CommonWords, ",") != "hitam" {
		t.Errorf("common words = %v", b.Detail.CommonWords)
	}

	hits, _ = FindText(context.Background(), q, corpus, tok, 0.2, DefaultTextScoring())
	if len(hits) != 1 {
		t.Errorf("threshold applies to the adjusted score, got %d hits", len(hits))
	}
}

func TestFindText_commonWordsCapped(t *testing.T) {
	tok := textfeat.NewTokenizer(nil)
	var words []string
	for i := 0; i < 15; i++ {
		words = append(words, fmt.Sprintf("kata%c", 'a'+i))
	}
	text := strings.Join(words, " ")
	corpus := []*models.CorpusEntry{{ID: "x", Status: models.StatusActive, Description: text, Embedding: []float32{1}}}
	hits, err := FindText(context.Background(), NewTextQuery(text, []float32{1}, tok), corpus, tok, 0, DefaultTextScoring())
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || len(hits[0].Detail.CommonWords) != maxCommonWords {
		t.Fatalf("expected %d common words, got %+v", maxCommonWords, hits)
	}
	if hits[0].Detail.CommonWords[0] != "kataa" {
		t.Errorf("common words should be sorted, got %v", hits[0].Detail.CommonWords)
	}
}

func TestFindText_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tok := textfeat.NewTokenizer(nil)
	corpus := []*models.CorpusEntry{{ID: "x", Status: models.StatusAvailable, Embedding: []float32{1}}}
	if _, err := FindText(ctx, NewTextQuery("x", []float32{1}, tok), corpus, tok, 0, DefaultTextScoring()); err == nil {
		t.Error("expected context error")
	}
}
