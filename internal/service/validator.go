package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/timmy/modelcatalog/internal/codec"
	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/merge"
	"github.com/timmy/modelcatalog/internal/metrics"
	"github.com/timmy/modelcatalog/internal/prompts"
)

// Strategy is how a catalog validation run talks to the provider.
type Strategy string

const (
	StrategySingle Strategy = "single"
	StrategyBatch  Strategy = "batch"
)

// ValidatorConfig holds configuration for catalog validation
type ValidatorConfig struct {
	BatchSize       int
	MaxBatches      int // 0 means no cap
	Pause           time.Duration
	TokenThreshold  int
	RecordThreshold int
	CharsPerToken   int
	PollInterval    time.Duration
	WebSearch       bool
}

// DefaultValidatorConfig returns the stock thresholds.
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		BatchSize:       50,
		Pause:           30 * time.Second,
		TokenThreshold:  180000,
		RecordThreshold: 250,
		CharsPerToken:   4,
		PollInterval:    100 * time.Millisecond,
	}
}

// ValidationOptions override the configured defaults for one run. Zero values
// keep the defaults.
type ValidationOptions struct {
	BatchSize  int
	MaxBatches int
	Pause      *time.Duration
	WebSearch  *bool
	OnProgress func(processed, total int)
}

// ValidationResult is the outcome of a catalog validation run. It is always
// returned, never an error: failures are reported through Success and Error.
type ValidationResult struct {
	RunID            string                    `json:"run_id"`
	Success          bool                      `json:"success"`
	Cancelled        bool                      `json:"cancelled"`
	Strategy         Strategy                  `json:"strategy,omitempty"`
	EstimatedTokens  int                       `json:"estimated_tokens"`
	BatchesTotal     int                       `json:"batches_total"`
	BatchesProcessed int                       `json:"batches_processed"`
	UpdatedRecords   []domain.Record           `json:"updated_records,omitempty"`
	Summary          *domain.ValidationSummary `json:"summary,omitempty"`
	Error            string                    `json:"error,omitempty"`
	ErrorKind        ErrorKind                 `json:"error_kind,omitempty"`
}

// RunStatus is a snapshot of the current or last run for polling.
type RunStatus struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"run_id,omitempty"`
	Strategy  Strategy  `json:"strategy,omitempty"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// configurable is implemented by providers that can report missing credentials.
type configurable interface {
	IsConfigured() bool
}

// CatalogValidator validates a whole catalog, or a subset, through one
// provider request or a sequence of rate-limited batches. Only one run may be
// in progress at a time.
type CatalogValidator struct {
	cfg     ValidatorConfig
	logger  *logger.Logger
	metrics *metrics.ValidationMetrics

	mu        sync.Mutex
	status    RunStatus
	cancelled bool
	cancel    context.CancelFunc
}

// NewCatalogValidator creates a new catalog validator
func NewCatalogValidator(cfg *ValidatorConfig, log *logger.Logger, m *metrics.ValidationMetrics) *CatalogValidator {
	def := DefaultValidatorConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.TokenThreshold <= 0 {
		c.TokenThreshold = def.TokenThreshold
	}
	if c.RecordThreshold <= 0 {
		c.RecordThreshold = def.RecordThreshold
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = def.CharsPerToken
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Pause < 0 {
		c.Pause = 0
	}
	return &CatalogValidator{cfg: c, logger: log, metrics: m}
}

func (v *CatalogValidator) log(ctx context.Context) *logger.Logger {
	return logger.Resolve(ctx, v.logger)
}

// EstimateTokens approximates the token cost of text as ceil(chars / CharsPerToken).
func (v *CatalogValidator) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + v.cfg.CharsPerToken - 1) / v.cfg.CharsPerToken
}

// SelectStrategy picks batch mode when the encoded catalog reaches the token
// threshold or the record count exceeds the record threshold.
func (v *CatalogValidator) SelectStrategy(records []domain.Record) (Strategy, int) {
	tokens := v.EstimateTokens(codec.Encode(records))
	if tokens >= v.cfg.TokenThreshold || len(records) > v.cfg.RecordThreshold {
		return StrategyBatch, tokens
	}
	return StrategySingle, tokens
}

// Status returns the state of the current or most recent run.
func (v *CatalogValidator) Status() RunStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Cancel requests cancellation of the running validation. The in-flight
// provider call is aborted and the run stops at the next check.
// It reports whether a run was in progress.
func (v *CatalogValidator) Cancel() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.status.Running {
		return false
	}
	v.cancelled = true
	if v.cancel != nil {
		v.cancel()
	}
	return true
}

func (v *CatalogValidator) isCancelled(ctx context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancelled || ctx.Err() != nil
}

func (v *CatalogValidator) setProgress(processed int) {
	v.mu.Lock()
	v.status.Processed = processed
	v.mu.Unlock()
}

// ValidateCatalog validates records through provider and returns the updated
// set together with a change summary. The input slice is not modified.
func (v *CatalogValidator) ValidateCatalog(ctx context.Context, provider TextCompleter, records []domain.Record, opts *ValidationOptions) *ValidationResult {
	if opts == nil {
		opts = &ValidationOptions{}
	}
	res := &ValidationResult{RunID: uuid.New().String()}

	if provider == nil {
		return v.fail(res, ErrNoProvider)
	}
	if c, ok := provider.(configurable); ok && !c.IsConfigured() {
		return v.fail(res, ErrNoProvider)
	}
	if len(records) == 0 {
		res.Success = true
		res.Strategy = StrategySingle
		res.UpdatedRecords = []domain.Record{}
		res.Summary = BuildSummary(nil, nil, v.cfg.WebSearch, 0)
		return res
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	v.mu.Lock()
	if v.status.Running {
		v.mu.Unlock()
		return v.fail(res, ErrValidationRunning)
	}
	v.status = RunStatus{Running: true, RunID: res.RunID, Total: len(records), StartedAt: time.Now()}
	v.cancelled = false
	v.cancel = cancel
	v.mu.Unlock()
	v.metrics.SetRunActive(true)

	defer func() {
		v.mu.Lock()
		v.status.Running = false
		v.cancel = nil
		v.mu.Unlock()
		v.metrics.SetRunActive(false)
	}()

	runCtx = logger.SetRunID(logger.Resolve(runCtx, v.logger).WithContext(runCtx), res.RunID)

	webSearch := v.cfg.WebSearch
	if opts.WebSearch != nil {
		webSearch = *opts.WebSearch
	}

	originals := make([]domain.Record, len(records))
	for i := range records {
		originals[i] = records[i].Clone()
	}

	start := time.Now()
	res.Strategy, res.EstimatedTokens = v.SelectStrategy(originals)
	v.mu.Lock()
	v.status.Strategy = res.Strategy
	v.mu.Unlock()

	v.log(runCtx).WithFields(logger.Fields{
		"strategy":         res.Strategy,
		"estimated_tokens": res.EstimatedTokens,
		logger.FieldCount:  len(originals),
	}).Info("Starting catalog validation")

	var errCount int
	switch res.Strategy {
	case StrategySingle:
		errCount = v.runSingle(runCtx, provider, originals, webSearch, opts, res)
	default:
		errCount = v.runBatches(runCtx, provider, originals, webSearch, opts, res)
	}

	if res.UpdatedRecords != nil {
		res.Summary = BuildSummary(originals, res.UpdatedRecords, webSearch, errCount)
	}

	outcome := "success"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
	case !res.Success:
		outcome = "failed"
	}
	updated := 0
	if res.Summary != nil {
		updated = res.Summary.ModelsUpdated
	}
	v.metrics.RecordRun(string(res.Strategy), outcome, time.Since(start).Seconds(), updated)

	logger.With(logger.Fields{"strategy": res.Strategy}).
		WithDuration(time.Since(start)).
		WithCount(updated).
		WithStatus(outcome).
		Info(runCtx, "Catalog validation finished")

	return res
}

func (v *CatalogValidator) fail(res *ValidationResult, err error) *ValidationResult {
	ce := ClassifyError(err)
	res.Success = false
	res.Error = ce.Message
	res.ErrorKind = ce.Kind
	return res
}

func (v *CatalogValidator) markCancelled(res *ValidationResult) {
	res.Success = false
	res.Cancelled = true
	res.Error = ErrCancelled.Error()
	res.ErrorKind = ErrorKindCancelled
}

// runSingle sends the whole set in one request. Any failure fails the run.
func (v *CatalogValidator) runSingle(ctx context.Context, provider TextCompleter, originals []domain.Record, webSearch bool, opts *ValidationOptions, res *ValidationResult) int {
	res.BatchesTotal = 1

	out, err := v.validateChunk(ctx, provider, originals, 1, 1, webSearch, true)
	if err != nil {
		if IsCancellation(err) || v.isCancelled(ctx) {
			v.markCancelled(res)
			res.UpdatedRecords = originals
			return 0
		}
		v.fail(res, err)
		return 1
	}

	res.BatchesProcessed = 1
	res.UpdatedRecords = out
	res.Success = true
	v.setProgress(len(originals))
	if opts.OnProgress != nil {
		opts.OnProgress(len(originals), len(originals))
	}
	return 0
}

// runBatches validates fixed-size chunks strictly one after another. A failed
// chunk keeps its original records and the run continues; only cancellation
// stops it early. Records never sent are appended untouched.
func (v *CatalogValidator) runBatches(ctx context.Context, provider TextCompleter, originals []domain.Record, webSearch bool, opts *ValidationOptions, res *ValidationResult) int {
	batchSize := v.cfg.BatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}
	maxBatches := v.cfg.MaxBatches
	if opts.MaxBatches > 0 {
		maxBatches = opts.MaxBatches
	}
	pause := v.cfg.Pause
	if opts.Pause != nil {
		pause = *opts.Pause
	}

	chunks := chunkRecords(originals, batchSize)
	res.BatchesTotal = len(chunks)

	updated := make([]domain.Record, 0, len(originals))
	remaining := func(from int) {
		for _, c := range chunks[from:] {
			updated = append(updated, c...)
		}
	}

	var (
		errCount  int
		processed int
	)
	for i, c := range chunks {
		if v.isCancelled(ctx) {
			v.markCancelled(res)
			remaining(i)
			break
		}
		if maxBatches > 0 && i >= maxBatches {
			v.log(ctx).WithFields(logger.Fields{
				"max_batches":     maxBatches,
				"skipped_batches": len(chunks) - i,
				logger.FieldCount: len(originals) - processed,
			}).Info("Batch cap reached, keeping remaining records unchanged")
			remaining(i)
			break
		}

		out, err := v.validateChunk(ctx, provider, c, i+1, len(chunks), webSearch, false)
		if err != nil {
			if IsCancellation(err) || v.isCancelled(ctx) {
				v.markCancelled(res)
				remaining(i)
				break
			}
			errCount++
			v.metrics.RecordBatch("error")
			v.log(ctx).WithError(err).WithField(logger.FieldBatch, i+1).
				Warn("Batch validation failed, keeping original records")
			out = c
		} else {
			v.metrics.RecordBatch("success")
		}

		updated = append(updated, out...)
		processed += len(c)
		res.BatchesProcessed++
		v.setProgress(processed)
		if opts.OnProgress != nil {
			opts.OnProgress(processed, len(originals))
		}

		if v.isCancelled(ctx) {
			v.markCancelled(res)
			remaining(i + 1)
			break
		}
		last := i == len(chunks)-1 || (maxBatches > 0 && i+1 >= maxBatches)
		if !last && !v.sleep(ctx, pause) {
			v.markCancelled(res)
			remaining(i + 1)
			break
		}
	}

	res.UpdatedRecords = updated
	if !res.Cancelled {
		res.Success = true
	}
	return errCount
}

// validateChunk runs one encode, complete, decode and repair cycle. In
// strict mode (single request) an empty reply is an error; otherwise it
// leaves the chunk unchanged.
func (v *CatalogValidator) validateChunk(ctx context.Context, provider TextCompleter, chunk []domain.Record, batch, batches int, webSearch, strict bool) ([]domain.Record, error) {
	start := time.Now()
	reply, err := provider.Complete(ctx, prompts.ValidationSystem(webSearch), prompts.ValidationUserPrompt(codec.Encode(chunk), batch, batches))
	if err != nil {
		return nil, err
	}
	if v.isCancelled(ctx) {
		return nil, ErrCancelled
	}

	decoded, err := codec.DecodeDetailed(reply)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", batch, err)
	}
	if strict && len(decoded.Records) == 0 {
		return nil, ErrEmptyValidationResult
	}

	fields := logger.Fields{
		logger.FieldBatch:      batch,
		"sent":                 len(chunk),
		"returned":             len(decoded.Records),
		"skipped_rows":         decoded.Skipped,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}
	if len(decoded.Records) < len(chunk) {
		v.log(ctx).WithFields(fields).Warn("Reply is missing records, repairing from originals")
	} else {
		v.log(ctx).WithFields(fields).Debug("Batch decoded")
	}
	return merge.RepairChunk(chunk, decoded.Records, decoded.Columns), nil
}

// sleep waits d, checking for cancellation every poll interval. It returns
// false if the run was cancelled while waiting.
func (v *CatalogValidator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !v.isCancelled(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return !v.isCancelled(ctx)
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if v.isCancelled(ctx) {
				return false
			}
		}
	}
}

func chunkRecords(records []domain.Record, size int) [][]domain.Record {
	if size <= 0 {
		size = len(records)
	}
	var chunks [][]domain.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// IsStructural reports whether err means a reply could not be interpreted at all.
func IsStructural(err error) bool {
	return errors.Is(err, codec.ErrNoTabularHeader) || errors.Is(err, ErrEmptyValidationResult)
}
