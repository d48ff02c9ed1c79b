package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/timmy/modelcatalog/internal/app"
	"github.com/timmy/modelcatalog/internal/config"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/service"
	"github.com/timmy/modelcatalog/internal/source"
	"github.com/timmy/modelcatalog/internal/source/manifest"
	"github.com/timmy/modelcatalog/internal/source/sheet"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	importPath := flag.String("import", "", "Merge records from a .jsonl manifest or .csv sheet before validating")
	importKind := flag.String("format", "", "Import format: jsonl or csv (default: from file extension)")
	idList := flag.String("ids", "", "Comma-separated record ids to validate (default: whole catalog)")
	perRecord := flag.Bool("jobs", false, "Validate selected records one by one through the job queue")
	sources := flag.String("sources", "", "Comma-separated preferred sources for per-record validation")
	batchSize := flag.Int("batch-size", 0, "Records per batch in batch mode (0: config default)")
	maxBatches := flag.Int("max-batches", -1, "Batch cap in batch mode (0: unlimited, -1: config default)")
	pause := flag.Duration("pause", -1, "Pause between batches (-1: config default)")
	webSearch := flag.Bool("web-search", false, "Ask the provider to verify facts with web search")
	skipValidation := flag.Bool("import-only", false, "Only import, do not validate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := app.NewLogger(cfg, "modelcatalog-validate")
	logger.SetDefaultLogger(appLogger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer components.Close()
	catalog := components.Catalog

	if *importPath != "" {
		src, err := openSource(*importPath, *importKind)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to open import source")
		}
		res, err := catalog.ImportFromSource(ctx, src, source.DefaultBatchSize)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to import records")
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldSource: src.GetSourceID(),
			"added":            res.Added,
			"updated":          res.Updated,
			"total":            len(res.Records),
		}).Info("Import completed")
	}
	if *skipValidation {
		return
	}

	ids := splitList(*idList)
	if *perRecord {
		runJobs(ctx, catalog, ids, splitList(*sources), appLogger)
		return
	}

	opts := &service.ValidationOptions{
		BatchSize: *batchSize,
		OnProgress: func(processed, total int) {
			appLogger.WithFields(logger.Fields{
				"processed": processed,
				"total":     total,
			}).Info("Validation progress")
		},
	}
	if *maxBatches >= 0 {
		opts.MaxBatches = *maxBatches
	}
	if *pause >= 0 {
		opts.Pause = pause
	}
	if *webSearch {
		opts.WebSearch = webSearch
	}

	// A signal at any point cancels the run; partial results are still committed.
	res := catalog.ValidateCatalog(ctx, ids, opts)
	fields := logger.Fields{
		logger.FieldRunID: res.RunID,
		"strategy":        res.Strategy,
		"batches":         fmt.Sprintf("%d/%d", res.BatchesProcessed, res.BatchesTotal),
		"cancelled":       res.Cancelled,
	}
	if res.Summary != nil {
		fields["models_updated"] = res.Summary.ModelsUpdated
		fields["changes"] = len(res.Summary.Changes)
	}
	if !res.Success {
		appLogger.WithFields(fields).WithField("error_kind", res.ErrorKind).Error("Validation failed: " + res.Error)
		components.Close()
		os.Exit(1)
	}
	appLogger.WithFields(fields).Info("Validation completed")
}

// runJobs queues one job per record, waits for the queue to drain and
// applies the completed results.
func runJobs(ctx context.Context, catalog *service.CatalogService, ids, sources []string, log *logger.Logger) {
	start := time.Now()
	jobs, err := catalog.ValidateSelected(ids, sources)
	if err != nil {
		log.WithError(err).Fatal("Failed to queue validation jobs")
	}
	log.WithField(logger.FieldCount, len(jobs)).Info("Validation jobs queued")

	queue := catalog.Queue()
	if err := queue.Wait(ctx); err != nil {
		log.Warn("Interrupted, aborting in-flight jobs")
		queue.ClearAllJobs()
		return
	}

	stats := queue.Stats()
	applied, err := catalog.ApplyCompletedJobs(context.Background())
	if err != nil {
		log.WithError(err).Fatal("Failed to apply validation results")
	}
	logger.With(logger.Fields{
		logger.FieldCount:      applied,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Per-record validation completed: completed=%d, failed=%d", stats.Completed, stats.Failed)
}

func openSource(path, kind string) (source.Source, error) {
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch kind {
	case "jsonl", "ndjson":
		return manifest.NewAdapter(path), nil
	case "csv":
		return sheet.NewAdapter(path), nil
	default:
		return nil, fmt.Errorf("unknown import format %q", kind)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
