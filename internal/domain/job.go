package domain

import "time"

// JobStatus represents the status of a validation job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// DefaultMaxAttempts is the attempt cap applied when none is configured.
const DefaultMaxAttempts = 3

// ValidationJob is one per-record enrichment request tracked by the job queue.
// Jobs live only for the lifetime of the process.
type ValidationJob struct {
	ID          string    `json:"id"`
	Record      Record    `json:"record"`
	Sources     []string  `json:"sources"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Result      *Record   `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a copy that shares no mutable state with j.
func (j *ValidationJob) Snapshot() ValidationJob {
	out := *j
	out.Record = j.Record.Clone()
	if j.Sources != nil {
		out.Sources = append([]string(nil), j.Sources...)
	}
	if j.Result != nil {
		r := j.Result.Clone()
		out.Result = &r
	}
	return out
}
