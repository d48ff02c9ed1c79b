package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/prompts"
)

// EnrichmentService fills in missing fields of a single record through a text completion provider.
type EnrichmentService struct {
	llm    TextCompleter
	logger *logger.Logger
}

// NewEnrichmentService creates a new enrichment service
func NewEnrichmentService(llm TextCompleter, log *logger.Logger) *EnrichmentService {
	return &EnrichmentService{llm: llm, logger: log}
}

func (s *EnrichmentService) log(ctx context.Context) *logger.Logger {
	return logger.Resolve(ctx, s.logger)
}

// Enrich asks the provider about one record and returns the normalized reply.
// The returned record carries the input's id and only the fields the provider
// asserted; combining it with the original is the caller's job.
func (s *EnrichmentService) Enrich(ctx context.Context, record domain.Record, sources []string) (domain.Record, error) {
	if s.llm == nil {
		return domain.Record{}, ErrNoProvider
	}

	payload, err := json.MarshalIndent(enrichmentInput(record), "", "  ")
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to encode record: %w", err)
	}

	reply, err := s.llm.Complete(ctx, prompts.EnrichmentSystemPrompt, prompts.EnrichmentUserPrompt(string(payload), sources))
	if err != nil {
		return domain.Record{}, err
	}

	enriched, err := NormalizeEnrichment(reply)
	if err != nil {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldRecordID: record.ID,
		}).WithError(err).Warn("Unparseable enrichment reply")
		return domain.Record{}, err
	}
	enriched.ID = record.ID
	return enriched, nil
}

// enrichmentInput strips the user-owned fields before a record is shown to a provider.
func enrichmentInput(r domain.Record) domain.Record {
	out := r.Clone()
	out.ApplyFlags(domain.UserFlags{})
	return out
}

type enrichmentReply struct {
	Name              string          `json:"name"`
	Provider          string          `json:"provider"`
	Domain            string          `json:"domain"`
	Description       string          `json:"description"`
	Parameters        json.RawMessage `json:"parameters"`
	ContextWindow     json.RawMessage `json:"context_window"`
	ReleaseDate       string          `json:"release_date"`
	UpdatedAt         string          `json:"updated_at"`
	URL               string          `json:"url"`
	Repo              string          `json:"repo"`
	Tags              []string        `json:"tags"`
	License           json.RawMessage `json:"license"`
	Hosting           *domain.Hosting `json:"hosting"`
	Pricing           json.RawMessage `json:"pricing"`
	Downloads         *int64          `json:"downloads"`
	Indemnity         string          `json:"indemnity"`
	DataProvenance    string          `json:"data_provenance"`
	UsageRestrictions []string        `json:"usage_restrictions"`
}

// NormalizeEnrichment turns a provider's JSON reply into a Record. The object
// may be wrapped in a code fence or prose; license may be a bare name or an
// object; pricing may be one object or a list; sizes may be numbers or strings.
func NormalizeEnrichment(reply string) (domain.Record, error) {
	raw := extractJSONObject(reply)
	if raw == "" {
		return domain.Record{}, fmt.Errorf("no JSON object in enrichment reply")
	}

	var r enrichmentReply
	if err := decodeJSON([]byte(raw), &r); err != nil {
		return domain.Record{}, fmt.Errorf("failed to parse enrichment reply: %w", err)
	}

	out := domain.Record{
		Name:              strings.TrimSpace(r.Name),
		Provider:          strings.TrimSpace(r.Provider),
		Description:       strings.TrimSpace(r.Description),
		Parameters:        flexibleString(r.Parameters),
		ContextWindow:     flexibleString(r.ContextWindow),
		ReleaseDate:       strings.TrimSpace(r.ReleaseDate),
		UpdatedAt:         strings.TrimSpace(r.UpdatedAt),
		URL:               strings.TrimSpace(r.URL),
		Repo:              strings.TrimSpace(r.Repo),
		Tags:              domain.StringArray(r.Tags),
		Downloads:         r.Downloads,
		DataProvenance:    strings.TrimSpace(r.DataProvenance),
		UsageRestrictions: domain.StringArray(r.UsageRestrictions),
	}
	if r.Domain != "" {
		out.Domain = domain.ParseDomain(r.Domain)
	}
	if r.Indemnity != "" {
		out.Indemnity = domain.ParseIndemnity(r.Indemnity)
	}
	if r.Hosting != nil {
		out.Hosting = *r.Hosting
	}

	license, err := parseLicense(r.License)
	if err != nil {
		return domain.Record{}, err
	}
	out.License = license

	pricing, err := parsePricing(r.Pricing)
	if err != nil {
		return domain.Record{}, err
	}
	out.Pricing = pricing

	return out, nil
}

func parseLicense(raw json.RawMessage) (domain.License, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.License{}, nil
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return domain.License{}, fmt.Errorf("failed to parse license: %w", err)
		}
		return domain.License{Name: strings.TrimSpace(name)}, nil
	}
	var l domain.License
	if err := json.Unmarshal(raw, &l); err != nil {
		return domain.License{}, fmt.Errorf("failed to parse license: %w", err)
	}
	if l.Type != "" {
		l.Type = domain.ParseLicenseType(string(l.Type))
	}
	return l, nil
}

func parsePricing(raw json.RawMessage) ([]domain.PricingEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var entries []domain.PricingEntry
	if raw[0] == '{' {
		var e domain.PricingEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to parse pricing: %w", err)
		}
		entries = []domain.PricingEntry{e}
	} else if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse pricing: %w", err)
	}

	out := entries[:0]
	for _, e := range entries {
		if !e.IsZero() {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// flexibleString accepts a JSON string or number.
func flexibleString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// extractJSONObject returns the outermost {...} span of text, which drops
// code fences and surrounding prose.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func decodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
