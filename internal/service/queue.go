package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/merge"
	"github.com/timmy/modelcatalog/internal/metrics"
)

// ValidateFunc enriches one record. It must honour ctx cancellation.
type ValidateFunc func(ctx context.Context, record domain.Record, sources []string) (domain.Record, error)

// QueueConfig holds configuration for the validation queue
type QueueConfig struct {
	Concurrency int
	MaxAttempts int

	// Callbacks run outside the queue lock, from worker goroutines.
	OnProgress func(completed, total int)
	OnComplete func(job domain.ValidationJob)
	OnError    func(job domain.ValidationJob)

	Metrics *metrics.ValidationMetrics
}

// QueueStats is a point-in-time count of jobs by status.
type QueueStats struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Paused     bool `json:"paused"`
}

// ValidationQueue runs per-record enrichment with at most Concurrency jobs in
// flight. Jobs start in insertion order; failed attempts are retried until
// MaxAttempts is reached.
type ValidationQueue struct {
	validate    ValidateFunc
	concurrency int
	maxAttempts int
	onProgress  func(completed, total int)
	onComplete  func(job domain.ValidationJob)
	onError     func(job domain.ValidationJob)
	metrics     *metrics.ValidationMetrics
	logger      *logger.Logger
	pool        pond.Pool

	mu         sync.Mutex
	jobs       []*domain.ValidationJob
	processing int
	draining   int // attempts of cleared jobs still holding a worker
	delivering int // finished jobs whose callbacks have not returned yet
	paused     bool
	closed     bool
	generation uint64
	inflight   map[string]context.CancelFunc
	changed    chan struct{}
}

// NewValidationQueue creates a new validation queue
func NewValidationQueue(validate ValidateFunc, cfg *QueueConfig, log *logger.Logger) *ValidationQueue {
	if cfg == nil {
		cfg = &QueueConfig{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	return &ValidationQueue{
		validate:    validate,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		onProgress:  cfg.OnProgress,
		onComplete:  cfg.OnComplete,
		onError:     cfg.OnError,
		metrics:     cfg.Metrics,
		logger:      log,
		pool:        pond.NewPool(concurrency),
		inflight:    make(map[string]context.CancelFunc),
		changed:     make(chan struct{}),
	}
}

// AddJob queues one record and starts it if a slot is free.
func (q *ValidationQueue) AddJob(record domain.Record, sources []string) domain.ValidationJob {
	return q.AddJobs([]domain.Record{record}, sources)[0]
}

// AddJobs queues one job per record, all with the same sources.
func (q *ValidationQueue) AddJobs(records []domain.Record, sources []string) []domain.ValidationJob {
	now := time.Now()
	out := make([]domain.ValidationJob, 0, len(records))

	q.mu.Lock()
	for _, r := range records {
		job := &domain.ValidationJob{
			ID:          uuid.New().String(),
			Record:      r.Clone(),
			Sources:     append([]string(nil), sources...),
			Status:      domain.JobStatusPending,
			MaxAttempts: q.maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		q.jobs = append(q.jobs, job)
		out = append(out, job.Snapshot())
	}
	q.fillLocked()
	q.notifyLocked()
	q.mu.Unlock()

	return out
}

// Pause stops new jobs from starting. In-flight jobs run to completion.
func (q *ValidationQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.notifyLocked()
	q.mu.Unlock()
}

// Resume allows jobs to start again and fills free slots.
func (q *ValidationQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.fillLocked()
	q.notifyLocked()
	q.mu.Unlock()
}

// Paused reports whether the queue is paused.
func (q *ValidationQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// ClearFinishedJobs drops completed and failed jobs and returns how many were removed.
func (q *ValidationQueue) ClearFinishedJobs() int {
	return q.removeFinished(func(*domain.ValidationJob) bool { return true })
}

// RemoveFinishedJobs drops the listed jobs that are completed or failed.
func (q *ValidationQueue) RemoveFinishedJobs(ids []string) int {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return q.removeFinished(func(j *domain.ValidationJob) bool { return set[j.ID] })
}

func (q *ValidationQueue) removeFinished(match func(*domain.ValidationJob) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if !j.Status.Terminal() || !match(j) {
			kept = append(kept, j)
		}
	}
	removed := len(q.jobs) - len(kept)
	for i := len(kept); i < len(q.jobs); i++ {
		q.jobs[i] = nil
	}
	q.jobs = kept
	q.notifyLocked()
	return removed
}

// ClearAllJobs pauses the queue, aborts in-flight provider calls and discards
// every job. Results of aborted attempts are ignored, and their slots stay
// taken until the calls return. The queue stays paused until Resume.
func (q *ValidationQueue) ClearAllJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = true
	q.cancelInflightLocked()
	q.generation++
	q.draining += q.processing
	q.jobs = nil
	q.processing = 0
	q.metrics.SetQueueDepth(0, 0)
	q.notifyLocked()
}

// Jobs returns copies of all jobs in insertion order.
func (q *ValidationQueue) Jobs() []domain.ValidationJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.ValidationJob, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Snapshot()
	}
	return out
}

// Job returns a copy of the job with the given id.
func (q *ValidationQueue) Job(id string) (domain.ValidationJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.ID == id {
			return j.Snapshot(), true
		}
	}
	return domain.ValidationJob{}, false
}

// Stats counts jobs by status.
func (q *ValidationQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *ValidationQueue) statsLocked() QueueStats {
	s := QueueStats{Total: len(q.jobs), Paused: q.paused}
	for _, j := range q.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			s.Pending++
		case domain.JobStatusProcessing:
			s.Processing++
		case domain.JobStatusCompleted:
			s.Completed++
		case domain.JobStatusFailed:
			s.Failed++
		}
	}
	return s
}

// Wait blocks until no job is processing, every finished job's callbacks have
// returned, and either none is pending or the queue is paused. It returns ctx.Err() if ctx ends first.
func (q *ValidationQueue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		s := q.statsLocked()
		closed := q.closed
		delivering := q.delivering
		ch := q.changed
		q.mu.Unlock()

		if s.Processing == 0 && delivering == 0 && (s.Pending == 0 || s.Paused || closed) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close aborts in-flight calls and waits for workers to exit.
func (q *ValidationQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancelInflightLocked()
	q.notifyLocked()
	q.mu.Unlock()

	q.pool.StopAndWait()
}

// fillLocked starts pending jobs, oldest first, until every slot is busy.
func (q *ValidationQueue) fillLocked() {
	if q.paused || q.closed {
		return
	}
	available := q.concurrency - q.processing - q.draining
	for _, j := range q.jobs {
		if available <= 0 {
			break
		}
		if j.Status != domain.JobStatusPending {
			continue
		}
		q.startLocked(j)
		available--
	}
	q.updateDepthLocked()
}

func (q *ValidationQueue) startLocked(job *domain.ValidationJob) {
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.UpdatedAt = time.Now()
	q.processing++

	gen := q.generation
	ctx, cancel := context.WithCancel(context.Background())
	q.inflight[job.ID] = cancel
	record := job.Record.Clone()
	sources := append([]string(nil), job.Sources...)

	q.pool.Submit(func() {
		defer cancel()
		start := time.Now()
		result, err := q.invoke(ctx, record, sources)
		q.finish(job, gen, result, err, time.Since(start))
	})
}

// invoke calls the validate function, converting a panic into an error so a
// misbehaving collaborator cannot wedge a slot.
func (q *ValidationQueue) invoke(ctx context.Context, record domain.Record, sources []string) (result domain.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validate panicked: %v", r)
		}
	}()
	if q.validate == nil {
		return domain.Record{}, ErrNoProvider
	}
	return q.validate(ctx, record, sources)
}

func (q *ValidationQueue) finish(job *domain.ValidationJob, gen uint64, result domain.Record, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	q.metrics.RecordAttempt(outcome, elapsed.Seconds())

	q.mu.Lock()
	if gen != q.generation {
		q.draining--
		q.fillLocked()
		q.notifyLocked()
		q.mu.Unlock()
		return
	}
	delete(q.inflight, job.ID)
	q.processing--
	job.UpdatedAt = time.Now()

	var (
		completed, failed bool
		snapshot          domain.ValidationJob
	)
	switch {
	case err == nil:
		merged := merge.FoldEnrichment(job.Record, result)
		job.Result = &merged
		job.Status = domain.JobStatusCompleted
		job.Error = ""
		job.ErrorKind = ""
		completed = true
	case job.Attempts < job.MaxAttempts && !IsCancellation(err):
		job.Status = domain.JobStatusPending
		job.Error = err.Error()
		q.log(job).WithError(err).WithFields(logger.Fields{
			"attempt": job.Attempts,
		}).Warn("Validation attempt failed, retrying")
	default:
		classified := ClassifyError(err)
		job.Status = domain.JobStatusFailed
		job.Error = classified.Message
		job.ErrorKind = string(classified.Kind)
		failed = true
		q.log(job).WithError(err).WithFields(logger.Fields{
			"attempts":   job.Attempts,
			"error_kind": job.ErrorKind,
		}).Error("Validation job failed")
	}
	if completed || failed {
		snapshot = job.Snapshot()
		q.metrics.RecordJobFinished(string(job.Status), job.ErrorKind)
	}

	stats := q.statsLocked()
	q.fillLocked()
	if completed || failed {
		q.delivering++
	}
	q.notifyLocked()
	q.mu.Unlock()

	if !completed && !failed {
		return
	}
	switch {
	case completed && q.onComplete != nil:
		q.onComplete(snapshot)
	case failed && q.onError != nil:
		q.onError(snapshot)
	}
	if q.onProgress != nil {
		q.onProgress(stats.Completed+stats.Failed, stats.Total)
	}

	q.mu.Lock()
	q.delivering--
	q.notifyLocked()
	q.mu.Unlock()
}

func (q *ValidationQueue) cancelInflightLocked() {
	for id, cancel := range q.inflight {
		cancel()
		delete(q.inflight, id)
	}
}

func (q *ValidationQueue) updateDepthLocked() {
	pending := 0
	for _, j := range q.jobs {
		if j.Status == domain.JobStatusPending {
			pending++
		}
	}
	q.metrics.SetQueueDepth(pending, q.processing)
}

// notifyLocked wakes every Wait caller.
func (q *ValidationQueue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *ValidationQueue) log(job *domain.ValidationJob) *logger.Logger {
	return logger.Resolve(context.Background(), q.logger).WithFields(logger.Fields{
		logger.FieldJobID:    job.ID,
		logger.FieldRecordID: job.Record.ID,
	})
}
