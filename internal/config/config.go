// Package config provides configuration loading and structs for the temuan matcher.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Matching MatchingConfig `yaml:"matching"`
	Text     TextConfig     `yaml:"text"`
	Image    ImageConfig    `yaml:"image"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Objects  ObjectsConfig  `yaml:"objects"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// FeedbackRate is the sustained number of feedback submissions per second.
	FeedbackRate  float64 `yaml:"feedback_rate"`
	FeedbackBurst int     `yaml:"feedback_burst"`
	MaxUploadMB   int     `yaml:"max_upload_mb"`
}

// StorageConfig holds paths for the database and the item catalog index.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	CatalogIndexPath string `yaml:"catalog_index_path"`
}

// MatchingConfig holds fusion and search settings.
type MatchingConfig struct {
	DefaultCollection  string        `yaml:"default_collection"`
	DefaultMaxResults  int           `yaml:"default_max_results"`
	MaxResultsLimit    int           `yaml:"max_results_limit"`
	FallbackFactor     float64       `yaml:"fallback_factor"`
	FallbackMinResults int           `yaml:"fallback_min_results"`
	SearchTimeout      time.Duration `yaml:"search_timeout"`
}

// TextConfig holds text vectorizer settings.
type TextConfig struct {
	StopwordsPath  string  `yaml:"stopwords_path"`
	SeedCorpusPath string  `yaml:"seed_corpus_path"`
	NGramMin       int     `yaml:"ngram_min"`
	NGramMax       int     `yaml:"ngram_max"`
	MinDF          int     `yaml:"min_df"`
	MaxDF          float64 `yaml:"max_df"`
	MaxFeatures    int     `yaml:"max_features"`
	MinCorpusDocs  int     `yaml:"min_corpus_docs"`
	CosineWeight   float64 `yaml:"cosine_weight"`
	OverlapWeight  float64 `yaml:"overlap_weight"`
	ContextBonus   float64 `yaml:"context_bonus"`
}

// ImageConfig holds the visual backbone settings.
type ImageConfig struct {
	// Backend is "onnx" or "mock".
	Backend    string `yaml:"backend"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	InputSize  int    `yaml:"input_size"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	CacheSize  int    `yaml:"cache_size"`
}

// StepRule maps an overall accuracy range to a threshold offset.
// Op is "below" (accuracy < Bound) or "above" (accuracy > Bound).
type StepRule struct {
	Op     string  `yaml:"op"`
	Bound  float64 `yaml:"bound"`
	Offset float64 `yaml:"offset"`
}

// FeedbackConfig holds adaptive threshold controller settings.
type FeedbackConfig struct {
	Window             time.Duration `yaml:"window"`
	Limit              int           `yaml:"limit"`
	MinRecords         int           `yaml:"min_records"`
	MinModalityRecords int           `yaml:"min_modality_records"`
	FreshFor           time.Duration `yaml:"fresh_for"`
	RecomputeTimeout   time.Duration `yaml:"recompute_timeout"`
	RefreshSchedule    string        `yaml:"refresh_schedule"`
	ThresholdFloor     float64       `yaml:"threshold_floor"`
	ThresholdCeiling   float64       `yaml:"threshold_ceiling"`
	ReliableAccuracy   float64       `yaml:"reliable_accuracy"`
	Steps              []StepRule    `yaml:"steps"`
}

// ObjectsConfig holds the image object store settings. When Endpoint is empty,
// image refs are read from LocalDir.
type ObjectsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	LocalDir  string `yaml:"local_dir"`
}

// WatchConfig holds stopword/seed file watch settings.
type WatchConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EnabledOrDefault returns whether to watch text resources; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CatalogIndexPath = expandPath(cfg.Storage.CatalogIndexPath, configDir)
	cfg.Image.ModelPath = expandPath(cfg.Image.ModelPath, configDir)
	if cfg.Text.StopwordsPath != "" {
		cfg.Text.StopwordsPath = expandPath(cfg.Text.StopwordsPath, configDir)
	}
	if cfg.Text.SeedCorpusPath != "" {
		cfg.Text.SeedCorpusPath = expandPath(cfg.Text.SeedCorpusPath, configDir)
	}
	if cfg.Objects.LocalDir != "" {
		cfg.Objects.LocalDir = expandPath(cfg.Objects.LocalDir, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks value ranges that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Matching.FallbackFactor <= 0 || c.Matching.FallbackFactor >= 1 {
		errs = append(errs, fmt.Errorf("matching.fallback_factor must be in (0,1), got %v", c.Matching.FallbackFactor))
	}
	if c.Text.MaxDF <= 0 || c.Text.MaxDF > 1 {
		errs = append(errs, fmt.Errorf("text.max_df must be in (0,1], got %v", c.Text.MaxDF))
	}
	if c.Text.NGramMin < 1 || c.Text.NGramMax < c.Text.NGramMin {
		errs = append(errs, fmt.Errorf("text ngram range invalid: %d..%d", c.Text.NGramMin, c.Text.NGramMax))
	}
	f := c.Feedback
	if f.ThresholdFloor < 0 || f.ThresholdCeiling > 1 || f.ThresholdFloor > f.ThresholdCeiling {
		errs = append(errs, fmt.Errorf("feedback threshold band invalid: [%v, %v]", f.ThresholdFloor, f.ThresholdCeiling))
	}
	for i, s := range f.Steps {
		if s.Op != "below" && s.Op != "above" {
			errs = append(errs, fmt.Errorf("feedback.steps[%d].op must be below or above, got %q", i, s.Op))
		}
	}
	switch c.Image.Backend {
	case "onnx", "mock":
	default:
		errs = append(errs, fmt.Errorf("image.backend must be onnx or mock, got %q", c.Image.Backend))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
