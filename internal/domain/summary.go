package domain

// Summary field buckets for per-field update counters.
const (
	FieldDescription   = "description"
	FieldParameters    = "parameters"
	FieldContextWindow = "context_window"
	FieldLicense       = "license"
	FieldReleaseDate   = "release_date"
	FieldTags          = "tags"
	FieldPricing       = "pricing"
	FieldOther         = "other"
)

// ChangeEvent records one field changed by automated validation.
type ChangeEvent struct {
	RecordID   string `json:"recordId"`
	RecordName string `json:"recordName"`
	Field      string `json:"field"`
	OldValue   string `json:"oldValue"`
	NewValue   string `json:"newValue"`
}

// FieldCounters counts updated records per field bucket.
type FieldCounters struct {
	Description   int `json:"description"`
	Parameters    int `json:"parameters"`
	ContextWindow int `json:"context_window"`
	License       int `json:"license"`
	ReleaseDate   int `json:"release_date"`
	Tags          int `json:"tags"`
	Pricing       int `json:"pricing"`
	Other         int `json:"other"`
}

// Inc increments the counter for the given bucket; unknown buckets count as other.
func (c *FieldCounters) Inc(bucket string) {
	switch bucket {
	case FieldDescription:
		c.Description++
	case FieldParameters:
		c.Parameters++
	case FieldContextWindow:
		c.ContextWindow++
	case FieldLicense:
		c.License++
	case FieldReleaseDate:
		c.ReleaseDate++
	case FieldTags:
		c.Tags++
	case FieldPricing:
		c.Pricing++
	default:
		c.Other++
	}
}

// ValidationSummary is the audit trail of a whole-catalog validation run.
type ValidationSummary struct {
	TotalModels   int           `json:"totalModels"`
	ModelsUpdated int           `json:"modelsUpdated"`
	FieldUpdates  FieldCounters `json:"fieldUpdates"`
	Changes       []ChangeEvent `json:"changes"`
	Errors        int           `json:"errors"`
	WebSearchUsed bool          `json:"webSearchUsed"`
}
