// Package main is the temuan CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/temuan/internal/config"
	"github.com/hyperjump/temuan/internal/embedding"
	"github.com/hyperjump/temuan/internal/feedback"
	"github.com/hyperjump/temuan/internal/indexer"
	"github.com/hyperjump/temuan/internal/keyword"
	"github.com/hyperjump/temuan/internal/objects"
	"github.com/hyperjump/temuan/internal/search"
	"github.com/hyperjump/temuan/internal/server"
	"github.com/hyperjump/temuan/internal/storage"
	"github.com/hyperjump/temuan/internal/textfeat"
	"github.com/hyperjump/temuan/internal/watcher"
	"github.com/hyperjump/temuan/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/temuan/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, a config.yaml in
// the current directory takes precedence so development runs pick up the project config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "match":
		runMatch()
	case "feedback":
		runFeedback()
	case "thresholds":
		runThresholds()
	case "item":
		runItem()
	case "retrain":
		runRetrain()
	case "refresh":
		runRefresh()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("temuan version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close(logger)

	scheduler := feedback.NewScheduler(logger)
	if spec := cfg.Feedback.RefreshSchedule; spec != "" {
		if err := scheduler.ScheduleRefresh(components.Thresholds, spec); err != nil {
			logger.Fatal("Invalid threshold refresh schedule", zap.String("schedule", spec), zap.Error(err))
		}
	}
	scheduler.Start()

	if cfg.Watch.EnabledOrDefault() {
		if w := newTextWatcher(cfg, components, logger, debugMode); w != nil {
			if err := w.Start(ctx); err != nil {
				logger.Fatal("Failed to start watcher", zap.Error(err))
			}
			defer w.Stop()
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Thresholds,
		components.Storage,
		components.Catalog,
		components.Text,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	scheduler.Stop(shutdownCtx)
	components.Thresholds.Wait()
}

// newTextWatcher watches the configured stopword and seed files. It returns nil
// when neither is configured.
func newTextWatcher(cfg *config.Config, c *Components, logger *zap.Logger, debug bool) *watcher.Watcher {
	files := []string{cfg.Text.StopwordsPath, cfg.Text.SeedCorpusPath}
	if strings.Join(files, "") == "" {
		logger.Debug("no text resource files configured, watcher disabled")
		return nil
	}
	reloader := &watcher.TextReloader{
		StopwordsPath:  cfg.Text.StopwordsPath,
		SeedCorpusPath: cfg.Text.SeedCorpusPath,
		Inputs:         c.Text,
		Retrain: func(ctx context.Context) error {
			model, res, err := c.Indexer.Retrain(ctx)
			if err != nil {
				return err
			}
			logger.Info("text model retrained after resource change",
				zap.Int64("model_version", model.Version),
				zap.Int("updated", res.Updated),
				zap.Int("failed", res.Failed))
			return nil
		},
		Logger: logger,
	}
	opts := []watcher.WatcherOption{watcher.WithDebounce(cfg.Watch.Debounce)}
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	return watcher.NewWatcher(files, reloader.OnChange, opts...)
}

// Components holds initialized services.
type Components struct {
	Storage    *storage.SQLiteStorage
	Catalog    *keyword.BleveIndex
	Backbone   embedding.Backbone
	Images     *embedding.ImageEmbedder
	Text       *textfeat.Extractor
	Objects    objects.Store
	Thresholds *feedback.Controller
	Engine     *search.Engine
	Indexer    *indexer.Indexer
}

// Close releases every component, logging what failed.
func (c *Components) Close(logger *zap.Logger) {
	var err error
	if c.Images != nil {
		err = multierr.Append(err, c.Images.Close())
	}
	if c.Catalog != nil {
		err = multierr.Append(err, c.Catalog.Close())
	}
	if c.Storage != nil {
		err = multierr.Append(err, c.Storage.Close())
	}
	if err != nil && logger != nil {
		logger.Warn("components closed with errors", zap.Error(err))
	}
}

func textParams(cfg *config.TextConfig) textfeat.Params {
	return textfeat.Params{
		NGramMin:    cfg.NGramMin,
		NGramMax:    cfg.NGramMax,
		MinDF:       cfg.MinDF,
		MaxDF:       cfg.MaxDF,
		MaxFeatures: cfg.MaxFeatures,
	}
}

// textInputs loads the stopword list and seed corpus, falling back to the
// built-in ones when a file is missing or unreadable.
func textInputs(cfg *config.TextConfig, logger *zap.Logger) (stopwords, seed []string) {
	stopwords, seed = textfeat.DefaultStopwords(), textfeat.DefaultSeedCorpus()
	if cfg.StopwordsPath != "" {
		if words, err := textfeat.LoadStopwords(cfg.StopwordsPath); err != nil {
			logger.Warn("using built-in stopwords", zap.String("path", cfg.StopwordsPath), zap.Error(err))
		} else {
			stopwords = words
		}
	}
	if cfg.SeedCorpusPath != "" {
		if docs, err := textfeat.LoadSeedCorpus(cfg.SeedCorpusPath); err != nil {
			logger.Warn("using built-in seed corpus", zap.String("path", cfg.SeedCorpusPath), zap.Error(err))
		} else {
			seed = docs
		}
	}
	return stopwords, seed
}

func newBackbone(cfg *config.ImageConfig, logger *zap.Logger) embedding.Backbone {
	if cfg.Backend == "mock" {
		return embedding.NewMockBackbone(cfg.Dimensions)
	}
	bb, err := embedding.NewONNXBackbone(cfg.ModelPath, cfg.InputName, cfg.OutputName, cfg.InputSize, cfg.Dimensions)
	if err != nil {
		logger.Warn("ONNX backbone unavailable, falling back to mock embeddings",
			zap.String("model_path", cfg.ModelPath), zap.Error(err))
		return embedding.NewMockBackbone(cfg.Dimensions)
	}
	return bb
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close(logger)
		}
	}()

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	stopwords, seed := textInputs(&cfg.Text, logger)
	c.Text = textfeat.NewExtractor(c.Storage, textParams(&cfg.Text),
		textfeat.WithLogger(logger),
		textfeat.WithModelStore(c.Storage),
		textfeat.WithStopwords(stopwords),
		textfeat.WithSeedCorpus(seed),
		textfeat.WithMinCorpusDocs(cfg.Text.MinCorpusDocs),
	)
	if _, err := c.Text.Load(ctx); err != nil {
		logger.Warn("persisted text model not loaded, will fit lazily", zap.Error(err))
	}

	c.Backbone = newBackbone(&cfg.Image, logger)
	c.Images = embedding.NewImageEmbedder(c.Backbone, cfg.Image.InputSize,
		embedding.WithLogger(logger),
		embedding.WithCacheSize(cfg.Image.CacheSize),
	)

	c.Thresholds = feedback.NewController(c.Storage, &cfg.Feedback, feedback.WithLogger(logger))
	c.Engine = search.NewEngine(c.Storage, c.Images, c.Text, c.Thresholds, &cfg.Matching,
		search.WithLogger(logger),
		search.WithTextScoring(search.TextScoring{
			CosineWeight:  cfg.Text.CosineWeight,
			OverlapWeight: cfg.Text.OverlapWeight,
			ContextBonus:  cfg.Text.ContextBonus,
		}),
	)

	c.Catalog, err = keyword.NewBleveIndex(cfg.Storage.CatalogIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog index: %w", err)
	}
	c.Objects, err = objects.New(ctx, cfg.Objects)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}
	logger.Info("image store initialized", zap.String("backend", c.Objects.Name()))

	c.Indexer = indexer.NewIndexer(c.Storage, c.Images, c.Text, c.Catalog, c.Objects, indexer.WithLogger(logger))

	// A fresh or deleted catalog directory is repopulated from storage.
	indexed, err := c.Catalog.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog size: %w", err)
	}
	stored, err := c.Storage.CountItems(ctx, "")
	if err != nil {
		return nil, err
	}
	if indexed == 0 && stored > 0 {
		if _, err := c.Indexer.RebuildCatalog(ctx); err != nil {
			return nil, fmt.Errorf("failed to rebuild catalog: %w", err)
		}
	}
	return c, nil
}

// directComponents loads config and initializes components for commands run
// without a server. The caller must call the returned cleanup.
func directComponents(configPath string) (*Components, *zap.Logger, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, logger, func() {
		components.Thresholds.Wait()
		components.Close(logger)
		_ = logger.Sync()
	}
}

func printUsage() {
	fmt.Println(`temuan - Lost and found item matching engine

Usage:
  temuan server [flags]                 Start the HTTP server
  temuan match [flags] <text>           Match a description and/or photos against a collection
  temuan feedback [flags]               Record whether a match was correct
  temuan thresholds [flags]             Show (or recompute) the adaptive thresholds
  temuan item <add|get|list|search|status|delete> [flags]
                                        Manage registered items
  temuan retrain [flags]                Refit the text model and refresh text embeddings
  temuan refresh [flags]                Regenerate stored embeddings
  temuan status [flags]                 Show item counts, model and threshold state
  temuan version                        Show version
  temuan help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/temuan/config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open storage directly
                     (match, retrain, refresh only; stop the server first).
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Match Flags:
  --collection string       found_items or lost_items (default from config)
  --image path              Photo to match; repeat for several photos
  --limit int               Maximum results (default from config)
  --image-threshold float   Override the image threshold (0..1)
  --text-threshold float    Override the text threshold (0..1)
  --image-weight float      Override the image weight (0..1)
  --text-weight float       Override the text weight (0..1)

Feedback Flags:
  --match-id string   Matched item ID
  --correct           The match was correct
  --type string       image, text or hybrid
  --score float       Score the match was returned with

Examples:
  temuan server
  temuan match dompet kulit hitam berisi kartu
  temuan match --image wallet.jpg --collection found_items "dompet hitam"
  temuan feedback --match-id 3f0c... --type hybrid --score 0.82 --correct
  temuan thresholds --recompute
  temuan item add --name "Dompet Hitam" --description "dompet kulit hitam" --image wallet.jpg
  temuan item search dompt
  temuan item status --claimed-by budi 3f0c... claimed
  temuan refresh --modality image
  temuan status --output json`)
}
