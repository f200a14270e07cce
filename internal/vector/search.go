package vector

import (
	"context"
	"sort"

	"github.com/hyperjump/temuan/internal/models"
)

// checkEvery is how many entries are scanned between context checks.
const checkEvery = 256

// Hit is a corpus entry that passed the threshold.
type Hit struct {
	Entry *models.CorpusEntry
	Score float64
}

// Find scans corpus linearly and returns entries whose cosine similarity to
// query is at least threshold, best first. Entries with a non-searchable status
// and entries without an embedding are skipped. Equal scores keep corpus order. Negative similarities count as 0.
// The scan stops with ctx.Err() when the context is done.
func Find(ctx context.Context, query []float32, corpus []*models.CorpusEntry, threshold float64) ([]Hit, error) {
	hits := make([]Hit, 0)
	for i, e := range corpus {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if e == nil || len(e.Embedding) == 0 || !e.Status.Searchable() {
			continue
		}
		s := Cosine(query, e.Embedding)
		if s < 0 {
			s = 0
		}
		if s >= threshold {
			hits = append(hits, Hit{Entry: e, Score: s})
		}
	}
	SortHits(hits)
	return hits, nil
}

// SortHits sorts descending by score, keeping the relative order of equal scores.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
