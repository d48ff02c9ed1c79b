package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/merge"
	"github.com/timmy/modelcatalog/internal/source"
)

// SnapshotStore persists the whole catalog.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) ([]domain.Record, error)
	SaveSnapshot(ctx context.Context, records []domain.Record) error
}

// SnapshotExporter publishes a copy of the catalog after each commit.
type SnapshotExporter interface {
	Export(ctx context.Context, records []domain.Record) (string, error)
}

// CatalogServiceConfig wires the collaborators of CatalogService.
type CatalogServiceConfig struct {
	Store     SnapshotStore
	Exporter  SnapshotExporter // optional
	Engine    *merge.Engine
	Provider  TextCompleter
	Validator *CatalogValidator
	Queue     *ValidationQueue
}

// CatalogService owns the in-memory catalog snapshot and is the entry point
// for import merges, per-record validation jobs and catalog validation runs.
type CatalogService struct {
	store     SnapshotStore
	exporter  SnapshotExporter
	engine    *merge.Engine
	provider  TextCompleter
	validator *CatalogValidator
	queue     *ValidationQueue
	logger    *logger.Logger

	mu         sync.RWMutex
	records    []domain.Record
	lastResult *ValidationResult

	baseCtx context.Context
	stop    context.CancelFunc
	runs    sync.WaitGroup
}

// NewCatalogService creates a new catalog service
func NewCatalogService(cfg *CatalogServiceConfig, log *logger.Logger) *CatalogService {
	engine := cfg.Engine
	if engine == nil {
		engine = merge.NewEngine(merge.Options{})
	}
	validator := cfg.Validator
	if validator == nil {
		validator = NewCatalogValidator(nil, log, nil)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &CatalogService{
		store:     cfg.Store,
		exporter:  cfg.Exporter,
		engine:    engine,
		provider:  cfg.Provider,
		validator: validator,
		queue:     cfg.Queue,
		logger:    log,
		records:   []domain.Record{},
		baseCtx:   ctx,
		stop:      stop,
	}
}

func (s *CatalogService) log(ctx context.Context) *logger.Logger {
	return logger.Resolve(ctx, s.logger).WithField(logger.FieldComponent, "catalog")
}

// Queue returns the per-record validation queue, or nil if none is wired.
func (s *CatalogService) Queue() *ValidationQueue {
	return s.queue
}

// Validator returns the catalog validation orchestrator.
func (s *CatalogService) Validator() *CatalogValidator {
	return s.validator
}

// Load replaces the in-memory catalog with the stored snapshot.
func (s *CatalogService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	records, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()

	s.log(ctx).WithField(logger.FieldCount, len(records)).Info("Catalog snapshot loaded")
	return nil
}

// Records returns a copy of the catalog.
func (s *CatalogService) Records() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.records)
}

// Record returns a copy of the record with the given id.
func (s *CatalogService) Record(id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		if s.records[i].ID == id {
			return s.records[i].Clone(), true
		}
	}
	return domain.Record{}, false
}

// LastResult returns the outcome of the most recent catalog validation run.
func (s *CatalogService) LastResult() *ValidationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// Commit dedupes records, persists them as the new snapshot and exports a
// copy when an exporter is configured. Export failures are logged only.
func (s *CatalogService) Commit(ctx context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx, records)
}

func (s *CatalogService) commitLocked(ctx context.Context, records []domain.Record) error {
	records = s.engine.Dedupe(records)
	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, records); err != nil {
			return fmt.Errorf("failed to save catalog: %w", err)
		}
	}
	s.records = records

	if s.exporter != nil {
		key, err := s.exporter.Export(ctx, records)
		if err != nil {
			s.log(ctx).WithError(err).Warn("Failed to export catalog snapshot")
		} else {
			s.log(ctx).WithFields(logger.Fields{"key": key, logger.FieldCount: len(records)}).Info("Catalog snapshot exported")
		}
	}
	return nil
}

// MergeIncoming folds incoming records into the catalog and commits the result.
func (s *CatalogService) MergeIncoming(ctx context.Context, incoming []domain.Record) (*merge.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.engine.MergeIncoming(s.records, incoming)
	if err := s.commitLocked(ctx, res.Records); err != nil {
		return nil, err
	}
	s.log(ctx).WithFields(logger.Fields{
		"added":   res.Added,
		"updated": res.Updated,
		"fuzzy":   s.engine.FuzzyMatching(),
	}).Info("Incoming records merged")
	return res, nil
}

// ImportFromSource drains src and merges everything it yields.
func (s *CatalogService) ImportFromSource(ctx context.Context, src source.Source, batchSize int) (*merge.Result, error) {
	ctx = logger.WithField(ctx, logger.FieldSource, src.GetSourceID())
	incoming, err := source.Drain(ctx, src, batchSize)
	if err != nil {
		return nil, err
	}
	s.log(ctx).WithField(logger.FieldCount, len(incoming)).Infof("Importing from %s", src.GetDisplayName())
	return s.MergeIncoming(ctx, incoming)
}

// ValidateSelected queues one enrichment job per id and resumes the queue.
func (s *CatalogService) ValidateSelected(ids []string, sources []string) ([]domain.ValidationJob, error) {
	if s.queue == nil {
		return nil, ErrNoProvider
	}
	records, err := s.selectRecords(ids)
	if err != nil {
		return nil, err
	}
	jobs := s.queue.AddJobs(records, sources)
	s.queue.Resume()
	return jobs, nil
}

// ApplyCompletedJobs writes completed job results into the catalog, commits,
// and drops finished jobs from the queue. It returns the number applied.
func (s *CatalogService) ApplyCompletedJobs(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	var (
		updates  []domain.Record
		finished []string
	)
	for _, job := range s.queue.Jobs() {
		if !job.Status.Terminal() {
			continue
		}
		finished = append(finished, job.ID)
		if job.Status == domain.JobStatusCompleted && job.Result != nil {
			updates = append(updates, *job.Result)
		}
	}

	s.mu.Lock()
	next, applied := applyUpdates(s.records, updates)
	if applied > 0 {
		if err := s.commitLocked(ctx, next); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	s.mu.Unlock()

	s.queue.RemoveFinishedJobs(finished)
	s.log(ctx).WithField(logger.FieldCount, applied).Info("Applied completed validation jobs")
	return applied, nil
}

// ValidateCatalog validates the records with the given ids, or the whole
// catalog when ids is empty, and commits the updated records. It blocks until
// the run finishes or is cancelled.
func (s *CatalogService) ValidateCatalog(ctx context.Context, ids []string, opts *ValidationOptions) *ValidationResult {
	records, err := s.selectRecords(ids)
	if err != nil {
		res := &ValidationResult{}
		return s.validator.fail(res, err)
	}

	res := s.validator.ValidateCatalog(ctx, s.provider, records, opts)
	if res.UpdatedRecords != nil && res.Summary != nil && res.Summary.ModelsUpdated > 0 {
		// Cancelled runs still carry finished batches.
		commitCtx := context.WithoutCancel(ctx)
		s.mu.Lock()
		next, _ := applyUpdates(s.records, res.UpdatedRecords)
		if err := s.commitLocked(commitCtx, next); err != nil {
			s.log(ctx).WithError(err).Error("Failed to commit validated catalog")
			res.Success = false
			res.Error = err.Error()
			res.ErrorKind = ErrorKindUnknown
		}
		s.mu.Unlock()
	}

	// A rejected concurrent request must not hide the result of the active run.
	if res.Error != ErrValidationRunning.Error() {
		s.mu.Lock()
		s.lastResult = res
		s.mu.Unlock()
	}
	return res
}

// StartValidation runs ValidateCatalog in the background. It fails fast when
// a run is already in progress.
func (s *CatalogService) StartValidation(ids []string, opts *ValidationOptions) error {
	if s.validator.Status().Running {
		return ErrValidationRunning
	}
	if _, err := s.selectRecords(ids); err != nil {
		return err
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.ValidateCatalog(s.baseCtx, ids, opts)
	}()
	return nil
}

// Close cancels background runs, waits for them and stops the queue.
func (s *CatalogService) Close() {
	s.stop()
	s.runs.Wait()
	if s.queue != nil {
		s.queue.Close()
	}
}

// selectRecords returns copies of the records with the given ids, in catalog
// order, or the whole catalog when ids is empty.
func (s *CatalogService) selectRecords(ids []string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(ids) == 0 {
		return cloneRecords(s.records), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]domain.Record, 0, len(ids))
	for i := range s.records {
		if want[s.records[i].ID] {
			out = append(out, s.records[i].Clone())
			delete(want, s.records[i].ID)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for id := range want {
			missing = append(missing, id)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

// applyUpdates replaces records by id. The current user flags always win, so
// edits made while a run was in flight are kept.
func applyUpdates(current, updates []domain.Record) ([]domain.Record, int) {
	byID := make(map[string]domain.Record, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}
	out := cloneRecords(current)
	applied := 0
	for i := range out {
		u, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		next := u.Clone()
		next.ApplyFlags(out[i].Flags())
		out[i] = next
		applied++
	}
	return out, applied
}

func cloneRecords(in []domain.Record) []domain.Record {
	out := make([]domain.Record, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
