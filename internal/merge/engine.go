// Package merge matches incoming model records against the catalog and folds
// them in without losing curated data.
package merge

import (
	"github.com/google/uuid"

	"github.com/timmy/modelcatalog/internal/domain"
)

// Options configures an Engine.
type Options struct {
	// FuzzyMatching enables normalized-name matching after the exact keys.
	// Off by default: similar names across distinct models would otherwise merge.
	FuzzyMatching bool
}

// Engine matches and merges records
type Engine struct {
	opts Options
}

// NewEngine creates a new merge engine
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// FuzzyMatching reports whether fuzzy name matching is enabled.
func (e *Engine) FuzzyMatching() bool {
	return e.opts.FuzzyMatching
}

// MatchIndex returns the index of the catalog record that candidate refers to,
// or -1 when it is a new entry. Keys are tried in order: id, repo, url and,
// when enabled, normalized name. The first key with a hit wins.
func (e *Engine) MatchIndex(catalog []domain.Record, candidate domain.Record) int {
	if candidate.ID != "" {
		for i := range catalog {
			if catalog[i].ID == candidate.ID {
				return i
			}
		}
	}
	if candidate.Repo != "" {
		for i := range catalog {
			if catalog[i].Repo == candidate.Repo {
				return i
			}
		}
	}
	if candidate.URL != "" {
		for i := range catalog {
			if catalog[i].URL == candidate.URL {
				return i
			}
		}
	}
	if !e.opts.FuzzyMatching {
		return -1
	}

	name := NormalizeName(candidate.Name)
	if name == "" {
		return -1
	}
	for i := range catalog {
		existing := &catalog[i]
		if NormalizeName(existing.Name) != name {
			continue
		}
		if !providersCompatible(existing.Provider, candidate.Provider) {
			continue
		}
		if existing.Domain.Known() && candidate.Domain.Known() && existing.Domain != candidate.Domain {
			continue
		}
		return i
	}
	return -1
}

// Merge folds incoming into existing. Existing values win unless empty, with
// two exceptions: plain non-CJK text replaces CJK text in name and description,
// and pricing tiers are unioned. Flags are OR'd and sets unioned.
//
// The result always carries existing's id and existing's user flags; callers
// folding automated output must still re-apply flags captured beforehand.
func (e *Engine) Merge(existing, incoming domain.Record) domain.Record {
	out := existing.Clone()

	var fromIncoming [2]bool
	out.Name, fromIncoming[0] = preferText(existing.Name, incoming.Name, incoming.MachineTranslated)
	out.Description, fromIncoming[1] = preferText(existing.Description, incoming.Description, incoming.MachineTranslated)
	out.MachineTranslated = false
	for i, v := range []string{out.Name, out.Description} {
		switch {
		case v == "":
		case fromIncoming[i]:
			out.MachineTranslated = out.MachineTranslated || incoming.MachineTranslated
		default:
			out.MachineTranslated = out.MachineTranslated || existing.MachineTranslated
		}
	}

	out.Provider = firstNonEmpty(existing.Provider, incoming.Provider)
	out.Source = firstNonEmpty(existing.Source, incoming.Source)
	out.URL = firstNonEmpty(existing.URL, incoming.URL)
	out.Repo = firstNonEmpty(existing.Repo, incoming.Repo)
	out.Parameters = firstNonEmpty(existing.Parameters, incoming.Parameters)
	out.ContextWindow = firstNonEmpty(existing.ContextWindow, incoming.ContextWindow)
	out.ReleaseDate = firstNonEmpty(existing.ReleaseDate, incoming.ReleaseDate)
	out.UpdatedAt = firstNonEmpty(existing.UpdatedAt, incoming.UpdatedAt)
	out.DataProvenance = firstNonEmpty(existing.DataProvenance, incoming.DataProvenance)

	if !existing.Domain.Known() && incoming.Domain.Known() {
		out.Domain = incoming.Domain
	} else if existing.Domain == "" {
		out.Domain = incoming.Domain
	}
	if incoming.Indemnity != "" && (existing.Indemnity == "" || existing.Indemnity == domain.IndemnityUnknown) {
		out.Indemnity = incoming.Indemnity
	}
	if out.Downloads == nil && incoming.Downloads != nil {
		d := *incoming.Downloads
		out.Downloads = &d
	}

	out.Tags = UnionStrings(existing.Tags, incoming.Tags)
	out.UsageRestrictions = UnionStrings(existing.UsageRestrictions, incoming.UsageRestrictions)
	out.License = MergeLicense(existing.License, incoming.License)
	out.Hosting = MergeHosting(existing.Hosting, incoming.Hosting)
	out.Pricing = UnionPricing(existing.Pricing, incoming.Pricing)

	return out
}

// MergeLicense keeps existing text fields unless empty and ORs the flags.
func MergeLicense(existing, incoming domain.License) domain.License {
	return domain.License{
		Name:                firstNonEmpty(existing.Name, incoming.Name),
		Type:                domain.LicenseType(firstNonEmpty(string(existing.Type), string(incoming.Type))),
		CommercialUse:       existing.CommercialUse || incoming.CommercialUse,
		AttributionRequired: existing.AttributionRequired || incoming.AttributionRequired,
		ShareAlike:          existing.ShareAlike || incoming.ShareAlike,
		Copyleft:            existing.Copyleft || incoming.Copyleft,
	}
}

// MergeHosting ORs the capability flags and unions the provider lists.
func MergeHosting(existing, incoming domain.Hosting) domain.Hosting {
	return domain.Hosting{
		WeightsAvailable:  existing.WeightsAvailable || incoming.WeightsAvailable,
		APIAvailable:      existing.APIAvailable || incoming.APIAvailable,
		OnPremiseFriendly: existing.OnPremiseFriendly || incoming.OnPremiseFriendly,
		Providers:         UnionStrings(existing.Providers, incoming.Providers),
	}
}

// Dedupe collapses records sharing an id. The last occurrence wins and takes
// the position of the first. Records without an id are kept as they are.
func (e *Engine) Dedupe(catalog []domain.Record) []domain.Record {
	out := make([]domain.Record, 0, len(catalog))
	pos := make(map[string]int, len(catalog))
	for _, r := range catalog {
		if r.ID == "" {
			out = append(out, r)
			continue
		}
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// Result is the outcome of MergeIncoming.
type Result struct {
	Records []domain.Record
	Added   int
	Updated int
}

// MergeIncoming folds a batch of incoming records into a copy of catalog.
// Matched records are merged with their user flags preserved; unmatched ones
// are appended, receiving a fresh id when they have none.
func (e *Engine) MergeIncoming(catalog, incoming []domain.Record) *Result {
	out := make([]domain.Record, len(catalog), len(catalog)+len(incoming))
	for i := range catalog {
		out[i] = catalog[i].Clone()
	}

	res := &Result{}
	for _, inc := range incoming {
		if idx := e.MatchIndex(out, inc); idx >= 0 {
			flags := out[idx].Flags()
			merged := e.Merge(out[idx], inc)
			merged.ApplyFlags(flags)
			out[idx] = merged
			res.Updated++
			continue
		}
		rec := inc.Clone()
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.Domain == "" {
			rec.Domain = domain.DomainOther
		}
		out = append(out, rec)
		res.Added++
	}

	res.Records = e.Dedupe(out)
	return res
}

// preferText picks between two text values and reports whether the incoming
// one was chosen.
func preferText(existing, incoming string, incomingTranslated bool) (string, bool) {
	if incoming != "" && !incomingTranslated && !ContainsCJK(incoming) && ContainsCJK(existing) {
		return incoming, true
	}
	if existing != "" {
		return existing, false
	}
	return incoming, incoming != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
