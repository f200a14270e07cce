package watcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/temuan/internal/textfeat"
)

// TextInputs accepts replacement stopwords and seed corpus. A nil slice keeps the current value.
type TextInputs interface {
	SetInputs(stopwords, seed []string)
}

// TextReloader reloads the stopword list and seed corpus from disk and retrains.
type TextReloader struct {
	StopwordsPath  string
	SeedCorpusPath string
	Inputs         TextInputs
	Retrain        func(ctx context.Context) error
	Logger         *zap.Logger
}

// Reload reads both files, applies what loaded, and retrains. A file that
// cannot be read keeps its previous contents; when neither loads, nothing changes.
func (r *TextReloader) Reload(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var stopwords, seed []string
	if r.StopwordsPath != "" {
		words, err := textfeat.LoadStopwords(r.StopwordsPath)
		if err != nil {
			logger.Warn("stopwords reload failed, keeping current list", zap.String("path", r.StopwordsPath), zap.Error(err))
		} else {
			stopwords = words
		}
	}
	if r.SeedCorpusPath != "" {
		docs, err := textfeat.LoadSeedCorpus(r.SeedCorpusPath)
		if err != nil {
			logger.Warn("seed corpus reload failed, keeping current corpus", zap.String("path", r.SeedCorpusPath), zap.Error(err))
		} else {
			seed = docs
		}
	}
	if stopwords == nil && seed == nil {
		return nil
	}
	r.Inputs.SetInputs(stopwords, seed)
	logger.Info("text resources reloaded",
		zap.Int("stopwords", len(stopwords)),
		zap.Int("seed_documents", len(seed)))
	if r.Retrain == nil {
		return nil
	}
	return r.Retrain(ctx)
}

// OnChange adapts Reload to the Watcher callback, logging failures.
func (r *TextReloader) OnChange(ctx context.Context, paths []string) {
	if err := r.Reload(ctx); err != nil {
		logger := r.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Error("retrain after text resource change failed", zap.Strings("paths", paths), zap.Error(err))
	}
}
