// Package app wires configuration into the catalog service graph shared by
// the API server and the command-line validator.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/timmy/modelcatalog/internal/config"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/merge"
	"github.com/timmy/modelcatalog/internal/metrics"
	"github.com/timmy/modelcatalog/internal/repository"
	"github.com/timmy/modelcatalog/internal/service"
	"github.com/timmy/modelcatalog/internal/storage"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Registry *prometheus.Registry
	LLM      *service.LLMService
	Catalog  *service.CatalogService
	Exporter *storage.SnapshotExporter // nil when export is disabled
}

// NewLogger builds the process logger from the environment, letting the
// config file override level and format.
func NewLogger(cfg *config.Config, serviceName string) *logger.Logger {
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = serviceName
	if cfg != nil && cfg.Logging.Level != "" {
		envCfg.Level = cfg.Logging.Level
	}
	if cfg != nil && cfg.Logging.Format != "" {
		envCfg.Format = cfg.Logging.Format
	}
	return logger.NewFromEnv(envCfg)
}

// New initializes storage, the provider client, metrics and the catalog
// service, then loads the stored snapshot.
// Parameters:
//   - ctx: context for startup I/O.
//   - cfg: loaded configuration.
//   - log: process logger.
// Returns:
//   - *App: ready components; call Close when done.
//   - error: first initialization failure.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.WithFields(logger.Fields{
		"driver": cfg.Database.Driver,
	}).Info("Database initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewValidationMetrics(registry)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	exporter, err := newExporter(ctx, &cfg.Storage, log)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	llm := service.NewLLMService(&service.LLMConfig{
		Provider:         cfg.LLM.Provider,
		Model:            cfg.LLM.Model,
		APIKey:           cfg.LLM.APIKey,
		BaseURL:          cfg.LLM.BaseURL,
		Timeout:          cfg.LLM.Timeout,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		TransportRetries: cfg.LLM.TransportRetries,
	})
	if llm.IsConfigured() {
		log.WithFields(logger.Fields{
			logger.FieldProvider: llm.GetProvider(),
			"model":              cfg.LLM.Model,
		}).Info("Text completion provider configured")
	} else {
		log.Warn("No text completion provider configured, validation is disabled")
	}

	enrichment := service.NewEnrichmentService(llm, log)
	queue := service.NewValidationQueue(enrichment.Enrich, &service.QueueConfig{
		Concurrency: cfg.Validation.Concurrency,
		MaxAttempts: cfg.Validation.MaxAttempts,
		Metrics:     m,
	}, log)

	validator := service.NewCatalogValidator(&service.ValidatorConfig{
		BatchSize:       cfg.Validation.BatchSize,
		MaxBatches:      cfg.Validation.MaxBatches,
		Pause:           cfg.Validation.Pause,
		TokenThreshold:  cfg.Validation.TokenThreshold,
		RecordThreshold: cfg.Validation.RecordThreshold,
		CharsPerToken:   cfg.Validation.CharsPerToken,
		PollInterval:    cfg.Validation.CancelPollInterval,
		WebSearch:       cfg.Validation.WebSearch,
	}, log, m)

	catalogCfg := &service.CatalogServiceConfig{
		Store:     repository.NewRecordRepository(db),
		Engine:    merge.NewEngine(merge.Options{FuzzyMatching: cfg.Merge.FuzzyMatching}),
		Provider:  llm,
		Validator: validator,
		Queue:     queue,
	}
	// A typed nil would defeat the exporter nil check.
	if exporter != nil {
		catalogCfg.Exporter = exporter
	}
	catalog := service.NewCatalogService(catalogCfg, log)
	if err := catalog.Load(ctx); err != nil {
		catalog.Close()
		closeDB(db)
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if exporter != nil && len(catalog.Records()) == 0 {
		if err := restoreFromExport(ctx, catalog, exporter, log); err != nil {
			catalog.Close()
			closeDB(db)
			return nil, err
		}
	}

	return &App{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Registry: registry,
		LLM:      llm,
		Catalog:  catalog,
		Exporter: exporter,
	}, nil
}

// Close stops background work and releases the database.
func (a *App) Close() {
	a.Catalog.Close()
	closeDB(a.DB)
}

func newExporter(ctx context.Context, cfg *config.StorageConfig, log *logger.Logger) (*storage.SnapshotExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
	}
	log.WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"prefix": cfg.Prefix,
	}).Info("Snapshot export enabled")
	return storage.NewSnapshotExporter(store, cfg.Prefix), nil
}

// restoreFromExport seeds an empty database from the latest exported snapshot.
func restoreFromExport(ctx context.Context, catalog *service.CatalogService, exporter *storage.SnapshotExporter, log *logger.Logger) error {
	records, err := exporter.Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := catalog.Commit(ctx, records); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	log.WithField(logger.FieldCount, len(records)).Info("Catalog restored from latest exported snapshot")
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
