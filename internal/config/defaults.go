package config

import "time"

// Safe controller defaults, used until enough feedback exists.
const (
	DefaultImageThreshold = 0.3
	DefaultTextThreshold  = 0.3
	DefaultImageWeight    = 0.4
	DefaultTextWeight     = 0.6
)

// DefaultSteps is the accuracy-to-offset table applied around the optimal threshold.
// Rules are evaluated in order; the first that matches wins.
func DefaultSteps() []StepRule {
	return []StepRule{
		{Op: "below", Bound: 0.3, Offset: -0.10},
		{Op: "below", Bound: 0.5, Offset: -0.05},
		{Op: "above", Bound: 0.8, Offset: 0.10},
		{Op: "above", Bound: 0.7, Offset: 0.05},
	}
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.FeedbackRate == 0 {
		cfg.Server.FeedbackRate = 5
	}
	if cfg.Server.FeedbackBurst == 0 {
		cfg.Server.FeedbackBurst = 10
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 20
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/temuan/data/db/items.db"
	}
	if cfg.Storage.CatalogIndexPath == "" {
		cfg.Storage.CatalogIndexPath = "/usr/local/var/temuan/data/indices/catalog"
	}

	if cfg.Matching.DefaultCollection == "" {
		cfg.Matching.DefaultCollection = "found_items"
	}
	if cfg.Matching.DefaultMaxResults == 0 {
		cfg.Matching.DefaultMaxResults = 10
	}
	if cfg.Matching.MaxResultsLimit == 0 {
		cfg.Matching.MaxResultsLimit = 100
	}
	if cfg.Matching.FallbackFactor == 0 {
		cfg.Matching.FallbackFactor = 0.7
	}
	if cfg.Matching.FallbackMinResults == 0 {
		cfg.Matching.FallbackMinResults = 3
	}
	if cfg.Matching.SearchTimeout == 0 {
		cfg.Matching.SearchTimeout = 10 * time.Second
	}

	if cfg.Text.NGramMin == 0 {
		cfg.Text.NGramMin = 1
	}
	if cfg.Text.NGramMax == 0 {
		cfg.Text.NGramMax = 3
	}
	if cfg.Text.MinDF == 0 {
		cfg.Text.MinDF = 1
	}
	if cfg.Text.MaxDF == 0 {
		cfg.Text.MaxDF = 0.90
	}
	if cfg.Text.MaxFeatures == 0 {
		cfg.Text.MaxFeatures = 20000
	}
	if cfg.Text.MinCorpusDocs == 0 {
		cfg.Text.MinCorpusDocs = 10
	}
	if cfg.Text.CosineWeight == 0 {
		cfg.Text.CosineWeight = 0.6
	}
	if cfg.Text.OverlapWeight == 0 {
		cfg.Text.OverlapWeight = 0.3
	}
	if cfg.Text.ContextBonus == 0 {
		cfg.Text.ContextBonus = 0.15
	}

	if cfg.Image.Backend == "" {
		cfg.Image.Backend = "onnx"
	}
	if cfg.Image.ModelPath == "" {
		cfg.Image.ModelPath = "/usr/local/var/temuan/data/models/resnet50-features.onnx"
	}
	if cfg.Image.Dimensions == 0 {
		cfg.Image.Dimensions = 2048
	}
	if cfg.Image.InputSize == 0 {
		cfg.Image.InputSize = 224
	}
	if cfg.Image.InputName == "" {
		cfg.Image.InputName = "input"
	}
	if cfg.Image.OutputName == "" {
		cfg.Image.OutputName = "features"
	}
	if cfg.Image.CacheSize == 0 {
		cfg.Image.CacheSize = 1000
	}

	if cfg.Feedback.Window == 0 {
		cfg.Feedback.Window = 30 * 24 * time.Hour
	}
	if cfg.Feedback.Limit == 0 {
		cfg.Feedback.Limit = 1000
	}
	if cfg.Feedback.MinRecords == 0 {
		cfg.Feedback.MinRecords = 10
	}
	if cfg.Feedback.MinModalityRecords == 0 {
		cfg.Feedback.MinModalityRecords = 5
	}
	if cfg.Feedback.FreshFor == 0 {
		cfg.Feedback.FreshFor = 24 * time.Hour
	}
	if cfg.Feedback.RecomputeTimeout == 0 {
		cfg.Feedback.RecomputeTimeout = 5 * time.Second
	}
	if cfg.Feedback.RefreshSchedule == "" {
		cfg.Feedback.RefreshSchedule = "@every 1h"
	}
	if cfg.Feedback.ThresholdFloor == 0 {
		cfg.Feedback.ThresholdFloor = 0.2
	}
	if cfg.Feedback.ThresholdCeiling == 0 {
		cfg.Feedback.ThresholdCeiling = 0.4
	}
	if cfg.Feedback.ReliableAccuracy == 0 {
		cfg.Feedback.ReliableAccuracy = 0.7
	}
	if cfg.Feedback.Steps == nil {
		cfg.Feedback.Steps = DefaultSteps()
	}

	if cfg.Objects.Bucket == "" {
		cfg.Objects.Bucket = "item-images"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
