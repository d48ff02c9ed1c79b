package codec

import (
	"strconv"
	"strings"

	"github.com/timmy/modelcatalog/internal/domain"
)

// JoinList joins list items with ListDelimiter, escaping the delimiter and
// backslashes inside items.
func JoinList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	escaped := make([]string, len(items))
	for i, item := range items {
		escaped[i] = escapeItem(item)
	}
	return strings.Join(escaped, string(ListDelimiter))
}

// SplitList is the inverse of JoinList. Empty items are dropped.
func SplitList(cell string) []string {
	var out []string
	for _, item := range splitEscaped(cell) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func escapeItem(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, string(ListDelimiter), `\`+string(ListDelimiter))
}

// splitEscaped splits on unescaped delimiters and keeps empty segments, which
// carry meaning for position-aligned pricing columns.
func splitEscaped(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	var (
		parts   []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range cell {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ListDelimiter:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// parseBool accepts the spellings providers commonly use and falls back to
// def for empty or unrecognized cells.
func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "✓":
		return true
	case "false", "no", "n", "0", "✗":
		return false
	default:
		return def
	}
}

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£¥")
	return strings.ReplaceAll(s, ",", "")
}

func parseInt(s string) (int64, bool) {
	s = cleanNumber(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

func parseFloat(s string) (float64, bool) {
	s = cleanNumber(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var pricingColumns = []string{
	ColPricingModel, ColPricingUnit, ColPricingInput, ColPricingOutput,
	ColPricingFlat, ColPricingCurrency, ColPricingNotes, ColPricingURL,
}

// encodePricing lays pricing tiers out column-wise: the n-th list item of every
// pricing column belongs to the n-th tier.
func encodePricing(entries []domain.PricingEntry) map[string]string {
	out := make(map[string]string, len(pricingColumns))
	if len(entries) == 0 {
		return out
	}
	for _, col := range pricingColumns {
		items := make([]string, len(entries))
		for i, e := range entries {
			items[i] = pricingValue(e, col)
		}
		out[col] = JoinList(items)
	}
	return out
}

func pricingValue(e domain.PricingEntry, col string) string {
	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	num := func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}
	switch col {
	case ColPricingModel:
		return str(e.Model)
	case ColPricingUnit:
		return str(e.Unit)
	case ColPricingInput:
		return num(e.Input)
	case ColPricingOutput:
		return num(e.Output)
	case ColPricingFlat:
		return num(e.Flat)
	case ColPricingCurrency:
		return str(e.Currency)
	case ColPricingNotes:
		return str(e.Notes)
	case ColPricingURL:
		return str(e.URL)
	}
	return ""
}

func decodePricing(cells map[string]string) []domain.PricingEntry {
	split := make(map[string][]string, len(pricingColumns))
	tiers := 0
	for _, col := range pricingColumns {
		parts := splitEscaped(cells[col])
		split[col] = parts
		if len(parts) > tiers {
			tiers = len(parts)
		}
	}

	var entries []domain.PricingEntry
	for i := 0; i < tiers; i++ {
		at := func(col string) string {
			if parts := split[col]; i < len(parts) {
				return strings.TrimSpace(parts[i])
			}
			return ""
		}
		e := domain.PricingEntry{
			Model:    optString(at(ColPricingModel)),
			Unit:     optString(at(ColPricingUnit)),
			Input:    optFloat(at(ColPricingInput)),
			Output:   optFloat(at(ColPricingOutput)),
			Flat:     optFloat(at(ColPricingFlat)),
			Currency: optString(at(ColPricingCurrency)),
			Notes:    optString(at(ColPricingNotes)),
			URL:      optString(at(ColPricingURL)),
		}
		if !e.IsZero() {
			entries = append(entries, e)
		}
	}
	return entries
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(s string) *float64 {
	f, ok := parseFloat(s)
	if !ok {
		return nil
	}
	return &f
}
