package merge

import (
	"github.com/timmy/modelcatalog/internal/codec"
	"github.com/timmy/modelcatalog/internal/domain"
)

// FoldEnrichment combines a per-record enrichment reply with the record it
// was produced for. Enriched values win where present; empty ones fall back to
// the original. License and hosting merge per field with flags OR'd, tags are
// unioned, and the original's id and user flags are always kept.
func FoldEnrichment(original, enriched domain.Record) domain.Record {
	out := enriched.Clone()
	out.ID = original.ID

	out.Name = firstNonEmpty(enriched.Name, original.Name)
	out.Provider = firstNonEmpty(enriched.Provider, original.Provider)
	out.Description = firstNonEmpty(enriched.Description, original.Description)
	out.Source = firstNonEmpty(enriched.Source, original.Source)
	out.URL = firstNonEmpty(enriched.URL, original.URL)
	out.Repo = firstNonEmpty(enriched.Repo, original.Repo)
	out.Parameters = firstNonEmpty(enriched.Parameters, original.Parameters)
	out.ContextWindow = firstNonEmpty(enriched.ContextWindow, original.ContextWindow)
	out.ReleaseDate = firstNonEmpty(enriched.ReleaseDate, original.ReleaseDate)
	out.UpdatedAt = firstNonEmpty(enriched.UpdatedAt, original.UpdatedAt)
	out.DataProvenance = firstNonEmpty(enriched.DataProvenance, original.DataProvenance)
	out.MachineTranslated = original.MachineTranslated && enriched.Name == "" && enriched.Description == ""

	if !enriched.Domain.Known() {
		out.Domain = original.Domain
	}
	if enriched.Indemnity == "" || (enriched.Indemnity == domain.IndemnityUnknown && original.Indemnity != "") {
		out.Indemnity = original.Indemnity
	}
	if enriched.Downloads == nil {
		out.Downloads = cloneInt(original.Downloads)
	}
	if len(enriched.Pricing) == 0 {
		out.Pricing = original.Clone().Pricing
	}
	if len(enriched.UsageRestrictions) == 0 {
		out.UsageRestrictions = original.Clone().UsageRestrictions
	}

	out.License = MergeLicense(enriched.License, original.License)
	out.Hosting = MergeHosting(original.Hosting, enriched.Hosting)
	out.Tags = UnionStrings(original.Tags, enriched.Tags)

	out.ApplyFlags(original.Flags())
	return out
}

// RepairChunk reconciles a decoded validation reply with the chunk of records
// that was sent. The output always holds exactly the original records, in
// their order and with their ids; a reply can improve a record but never
// delete one.
//
// Counterparts are found by id, then by normalized name. When the reply is
// shorter than the chunk it is not fully trusted: only the descriptive fields
// are folded in. A complete reply is taken as is, with empty cells falling
// back to the original. Fields whose column the reply header left out keep the
// original value too; columns is the decoded header, nil meaning complete.
// User flags are re-asserted either way.
func RepairChunk(originals, decoded []domain.Record, columns []string) []domain.Record {
	out := make([]domain.Record, len(originals))
	for i := range originals {
		out[i] = originals[i].Clone()
	}
	if len(decoded) == 0 {
		return out
	}

	has := columnSet(columns)
	matches := matchDecoded(originals, decoded)
	partial := len(decoded) < len(originals)
	for i, di := range matches {
		if di < 0 {
			continue
		}
		if partial {
			out[i] = foldDescriptive(originals[i], decoded[di])
		} else {
			out[i] = overlayDecoded(originals[i], decoded[di], has)
		}
	}
	return out
}

// matchDecoded returns, for each original, the index of its decoded
// counterpart or -1. Each decoded row is used at most once.
func matchDecoded(originals, decoded []domain.Record) []int {
	matches := make([]int, len(originals))
	used := make([]bool, len(decoded))

	byID := make(map[string]int, len(decoded))
	for j, d := range decoded {
		if d.ID == "" {
			continue
		}
		if _, dup := byID[d.ID]; !dup {
			byID[d.ID] = j
		}
	}
	for i, o := range originals {
		matches[i] = -1
		if j, ok := byID[o.ID]; ok && o.ID != "" && !used[j] {
			matches[i] = j
			used[j] = true
		}
	}

	byName := make(map[string][]int)
	for j, d := range decoded {
		if used[j] {
			continue
		}
		if n := NormalizeName(d.Name); n != "" {
			byName[n] = append(byName[n], j)
		}
	}
	for i, o := range originals {
		if matches[i] >= 0 {
			continue
		}
		n := NormalizeName(o.Name)
		for _, j := range byName[n] {
			if !used[j] {
				matches[i] = j
				used[j] = true
				break
			}
		}
	}
	return matches
}

// foldDescriptive takes non-empty descriptive fields from decoded.
func foldDescriptive(original, decoded domain.Record) domain.Record {
	out := original.Clone()
	out.Name = firstNonEmpty(decoded.Name, original.Name)
	out.Provider = firstNonEmpty(decoded.Provider, original.Provider)
	out.Description = firstNonEmpty(decoded.Description, original.Description)
	out.Parameters = firstNonEmpty(decoded.Parameters, original.Parameters)
	out.ContextWindow = firstNonEmpty(decoded.ContextWindow, original.ContextWindow)
	out.ReleaseDate = firstNonEmpty(decoded.ReleaseDate, original.ReleaseDate)
	out.UpdatedAt = firstNonEmpty(decoded.UpdatedAt, original.UpdatedAt)
	if len(decoded.Tags) > 0 {
		out.Tags = append(domain.StringArray(nil), decoded.Tags...)
	}
	out.ApplyFlags(original.Flags())
	return out
}

// overlayDecoded takes the decoded record, keeping original values for cells
// the reply left empty and for columns it did not send.
func overlayDecoded(original, decoded domain.Record, has func(col string) bool) domain.Record {
	out := decoded.Clone()
	out.ID = original.ID

	out.Name = firstNonEmpty(decoded.Name, original.Name)
	out.Provider = firstNonEmpty(decoded.Provider, original.Provider)
	out.Description = firstNonEmpty(decoded.Description, original.Description)
	out.Source = firstNonEmpty(decoded.Source, original.Source)
	out.URL = firstNonEmpty(decoded.URL, original.URL)
	out.Repo = firstNonEmpty(decoded.Repo, original.Repo)
	out.Parameters = firstNonEmpty(decoded.Parameters, original.Parameters)
	out.ContextWindow = firstNonEmpty(decoded.ContextWindow, original.ContextWindow)
	out.ReleaseDate = firstNonEmpty(decoded.ReleaseDate, original.ReleaseDate)
	out.UpdatedAt = firstNonEmpty(decoded.UpdatedAt, original.UpdatedAt)
	out.DataProvenance = firstNonEmpty(decoded.DataProvenance, original.DataProvenance)
	out.License.Name = firstNonEmpty(decoded.License.Name, original.License.Name)

	if !decoded.Domain.Known() {
		out.Domain = original.Domain
	}
	if decoded.Indemnity == "" {
		out.Indemnity = original.Indemnity
	}
	if decoded.Downloads == nil {
		out.Downloads = cloneInt(original.Downloads)
	}
	if len(decoded.Tags) == 0 {
		out.Tags = original.Clone().Tags
	}
	if len(decoded.Pricing) == 0 {
		out.Pricing = original.Clone().Pricing
	}
	if len(decoded.UsageRestrictions) == 0 {
		out.UsageRestrictions = original.Clone().UsageRestrictions
	}
	if len(decoded.Hosting.Providers) == 0 {
		out.Hosting.Providers = original.Clone().Hosting.Providers
	}
	keepAbsentColumns(&out, original, has)

	out.ApplyFlags(original.Flags())
	return out
}

// keepAbsentColumns restores fields whose decoded value is only a default
// because the column was missing from the reply.
func keepAbsentColumns(out *domain.Record, original domain.Record, has func(col string) bool) {
	if !has(codec.ColDomain) {
		out.Domain = original.Domain
	}
	if !has(codec.ColLicenseType) {
		out.License.Type = original.License.Type
	}
	if !has(codec.ColLicenseCommercial) {
		out.License.CommercialUse = original.License.CommercialUse
	}
	if !has(codec.ColLicenseAttribution) {
		out.License.AttributionRequired = original.License.AttributionRequired
	}
	if !has(codec.ColLicenseShareAlike) {
		out.License.ShareAlike = original.License.ShareAlike
	}
	if !has(codec.ColLicenseCopyleft) {
		out.License.Copyleft = original.License.Copyleft
	}
	if !has(codec.ColHostingWeights) {
		out.Hosting.WeightsAvailable = original.Hosting.WeightsAvailable
	}
	if !has(codec.ColHostingAPI) {
		out.Hosting.APIAvailable = original.Hosting.APIAvailable
	}
	if !has(codec.ColHostingOnPremise) {
		out.Hosting.OnPremiseFriendly = original.Hosting.OnPremiseFriendly
	}
	if !has(codec.ColIndemnity) {
		out.Indemnity = original.Indemnity
	}
	if !has(codec.ColMachineTranslated) {
		out.MachineTranslated = original.MachineTranslated
	}
}

func columnSet(columns []string) func(col string) bool {
	if columns == nil {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(columns))
	for _, c := range columns {
		set[c] = true
	}
	return func(col string) bool { return set[col] }
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
