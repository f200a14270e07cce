package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
matching:
  fallback_factor: 0.5
feedback:
  window: 72h
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Matching.FallbackFactor != 0.5 {
		t.Errorf("fallback_factor = %v, want 0.5", cfg.Matching.FallbackFactor)
	}
	if cfg.Feedback.Window != 72*time.Hour {
		t.Errorf("feedback window = %v, want 72h", cfg.Feedback.Window)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/items.db"
text:
  stopwords_path: "./text/stopwords.txt"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "items.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantStop := filepath.Join(dir, "text", "stopwords.txt")
	if cfg.Text.StopwordsPath != wantStop {
		t.Errorf("stopwords_path = %s, want %s", cfg.Text.StopwordsPath, wantStop)
	}
	if cfg.Text.SeedCorpusPath != "" {
		t.Errorf("seed_corpus_path should stay empty, got %s", cfg.Text.SeedCorpusPath)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"fallback factor above one", "matching:\n  fallback_factor: 1.5\n"},
		{"bad step op", "feedback:\n  steps:\n    - {op: equal, bound: 0.5, offset: 0}\n"},
		{"bad backend", "image:\n  backend: tensorflow\n"},
		{"inverted band", "feedback:\n  threshold_floor: 0.5\n  threshold_ceiling: 0.3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Matching.FallbackFactor != 0.7 || cfg.Matching.FallbackMinResults != 3 {
		t.Errorf("fallback defaults: got factor=%v min=%d", cfg.Matching.FallbackFactor, cfg.Matching.FallbackMinResults)
	}
	if cfg.Text.NGramMin != 1 || cfg.Text.NGramMax != 3 || cfg.Text.MaxDF != 0.90 || cfg.Text.MaxFeatures != 20000 {
		t.Errorf("text defaults: got %+v", cfg.Text)
	}
	if cfg.Feedback.Window != 30*24*time.Hour || cfg.Feedback.Limit != 1000 || cfg.Feedback.MinRecords != 10 {
		t.Errorf("feedback defaults: got %+v", cfg.Feedback)
	}
	if cfg.Feedback.FreshFor != 24*time.Hour {
		t.Errorf("fresh_for: got %v", cfg.Feedback.FreshFor)
	}
	if len(cfg.Feedback.Steps) != 4 || cfg.Feedback.Steps[0].Op != "below" {
		t.Errorf("steps: got %+v", cfg.Feedback.Steps)
	}
	if cfg.Image.Backend != "onnx" || cfg.Image.Dimensions != 2048 {
		t.Errorf("image defaults: got %+v", cfg.Image)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestWatchConfig_EnabledOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.EnabledOrDefault(); !got {
			t.Errorf("EnabledOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Enabled: &f}
		if got := w.EnabledOrDefault(); got {
			t.Errorf("EnabledOrDefault() = %v, want false", got)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TEMUAN_PORT", "9191")
	t.Setenv("TEMUAN_OBJECTS_SECRET_KEY", "s3cret")
	t.Setenv("TEMUAN_DEBUG", "true")
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Objects.SecretKey != "s3cret" {
		t.Errorf("secret key not applied: %q", cfg.Objects.SecretKey)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}

	t.Setenv("TEMUAN_PORT", "not-a-port")
	if err := ApplyEnv(cfg); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Feedback.FreshFor != 24*time.Hour {
		t.Errorf("loaded fresh_for: got %v", loaded.Feedback.FreshFor)
	}
}
