package merge

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/timmy/modelcatalog/internal/domain"
)

// fold case folds s. Casers carry state, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeName reduces a model name to its comparable core: compatibility
// normalized, case folded, and stripped of punctuation and whitespace.
func NormalizeName(s string) string {
	s = fold(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldKey is the case-insensitive identity used when unioning string sets.
func foldKey(s string) string {
	return fold(strings.TrimSpace(s))
}

// ContainsCJK reports whether s contains any Han, Hiragana, Katakana or Hangul rune.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}

// providersCompatible is the tolerant provider comparison used by fuzzy
// matching: equal, either side empty, or one contains the other.
func providersCompatible(a, b string) bool {
	a, b = NormalizeName(a), NormalizeName(b)
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// UnionStrings appends the items of b missing from a, comparing
// case-insensitively and keeping the first spelling seen.
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		if a != nil {
			return a[:0:0]
		}
		return b
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			k := foldKey(s)
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func pricingSignature(p domain.PricingEntry) string {
	str := func(v *string) string {
		if v == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(*v))
	}
	num := func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'g', -1, 64)
	}
	return strings.Join([]string{
		str(p.Model), str(p.Unit), num(p.Input), num(p.Output), num(p.Flat),
		strings.ToUpper(str(p.Currency)),
	}, "|")
}

// UnionPricing concatenates both tier lists, dropping entries whose signature
// was already seen. Order is existing first, then new incoming tiers.
func UnionPricing(a, b []domain.PricingEntry) []domain.PricingEntry {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]domain.PricingEntry, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]domain.PricingEntry{a, b} {
		for _, p := range list {
			if p.IsZero() {
				continue
			}
			sig := pricingSignature(p)
			if _, ok := seen[sig]; ok {
				continue
			}
			seen[sig] = struct{}{}
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
