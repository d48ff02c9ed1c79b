package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing fields, carried through the call chain on the context logger
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the validation job ID
	FieldJobID = "job_id"

	// FieldRunID identifies one catalog validation run
	FieldRunID = "run_id"

	// FieldRecordID is the catalog record being worked on
	FieldRecordID = "record_id"

	// FieldBatch is the 1-based batch number within a run
	FieldBatch = "batch"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldProvider is the text completion provider
	FieldProvider = "provider"

	// FieldSource is the import source identifier
	FieldSource = "source"
)

// ============================================
// Metric fields, set per entry for aggregation
// ============================================

const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldSize       = "size"
)
