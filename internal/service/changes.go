package service

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/timmy/modelcatalog/internal/domain"
)

type fieldDiff struct {
	field  string
	bucket string
	render func(r *domain.Record) string
}

func joinSet(items []string) string {
	return strings.Join(items, "; ")
}

func jsonString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// diffFields lists the fields compared after validation, each with its summary bucket.
// User flags are not listed: validation never changes them.
var diffFields = []fieldDiff{
	{"name", domain.FieldOther, func(r *domain.Record) string { return r.Name }},
	{"provider", domain.FieldOther, func(r *domain.Record) string { return r.Provider }},
	{"domain", domain.FieldOther, func(r *domain.Record) string { return string(r.Domain) }},
	{"description", domain.FieldDescription, func(r *domain.Record) string { return r.Description }},
	{"tags", domain.FieldTags, func(r *domain.Record) string { return joinSet(r.Tags) }},
	{"source", domain.FieldOther, func(r *domain.Record) string { return r.Source }},
	{"url", domain.FieldOther, func(r *domain.Record) string { return r.URL }},
	{"repo", domain.FieldOther, func(r *domain.Record) string { return r.Repo }},
	{"license", domain.FieldLicense, func(r *domain.Record) string { return jsonString(r.License) }},
	{"hosting", domain.FieldOther, func(r *domain.Record) string { return jsonString(r.Hosting) }},
	{"parameters", domain.FieldParameters, func(r *domain.Record) string { return r.Parameters }},
	{"context_window", domain.FieldContextWindow, func(r *domain.Record) string { return r.ContextWindow }},
	{"pricing", domain.FieldPricing, func(r *domain.Record) string {
		if len(r.Pricing) == 0 {
			return ""
		}
		return jsonString(r.Pricing)
	}},
	{"release_date", domain.FieldReleaseDate, func(r *domain.Record) string { return r.ReleaseDate }},
	{"updated_at", domain.FieldOther, func(r *domain.Record) string { return r.UpdatedAt }},
	{"downloads", domain.FieldOther, func(r *domain.Record) string {
		if r.Downloads == nil {
			return ""
		}
		return strconv.FormatInt(*r.Downloads, 10)
	}},
	{"indemnity", domain.FieldOther, func(r *domain.Record) string { return string(r.Indemnity) }},
	{"data_provenance", domain.FieldOther, func(r *domain.Record) string { return r.DataProvenance }},
	{"usage_restrictions", domain.FieldOther, func(r *domain.Record) string { return joinSet(r.UsageRestrictions) }},
}

// BuildSummary diffs each record in after against its counterpart (by id) in
// before and returns the audit trail. Records without a counterpart are skipped.
func BuildSummary(before, after []domain.Record, webSearch bool, errors int) *domain.ValidationSummary {
	byID := make(map[string]*domain.Record, len(before))
	for i := range before {
		byID[before[i].ID] = &before[i]
	}

	summary := &domain.ValidationSummary{
		TotalModels:   len(after),
		Changes:       []domain.ChangeEvent{},
		Errors:        errors,
		WebSearchUsed: webSearch,
	}
	for i := range after {
		next := &after[i]
		prev, ok := byID[next.ID]
		if !ok {
			continue
		}
		changed := false
		for _, f := range diffFields {
			oldValue, newValue := f.render(prev), f.render(next)
			if oldValue == newValue {
				continue
			}
			changed = true
			summary.FieldUpdates.Inc(f.bucket)
			summary.Changes = append(summary.Changes, domain.ChangeEvent{
				RecordID:   next.ID,
				RecordName: next.Name,
				Field:      f.field,
				OldValue:   oldValue,
				NewValue:   newValue,
			})
		}
		if changed {
			summary.ModelsUpdated++
		}
	}
	return summary
}
