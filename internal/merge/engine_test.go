package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/modelcatalog/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func catalog() []domain.Record {
	return []domain.Record{
		{ID: "a", Name: "Llama 3 70B", Provider: "Meta", Domain: domain.DomainLLM, Repo: "https://github.com/meta/llama3"},
		{ID: "b", Name: "Stable Diffusion XL", Provider: "Stability AI", Domain: domain.DomainImageGen, URL: "https://stability.ai/sdxl"},
		{ID: "c", Name: "Whisper", Provider: "OpenAI", Domain: domain.DomainASR},
	}
}

func TestMatchIndexPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		fuzzy     bool
		candidate domain.Record
		expected  int
	}{
		{name: "id", candidate: domain.Record{ID: "c", Repo: "https://github.com/meta/llama3"}, expected: 2},
		{name: "repo", candidate: domain.Record{ID: "zz", Repo: "https://github.com/meta/llama3"}, expected: 0},
		{name: "url", candidate: domain.Record{URL: "https://stability.ai/sdxl"}, expected: 1},
		{name: "fuzzy disabled", candidate: domain.Record{Name: "whisper"}, expected: -1},
		{name: "fuzzy name", fuzzy: true, candidate: domain.Record{Name: "  WHISPER! "}, expected: 2},
		{name: "fuzzy provider containment", fuzzy: true, candidate: domain.Record{Name: "stable-diffusion xl", Provider: "Stability"}, expected: 1},
		{name: "fuzzy provider mismatch", fuzzy: true, candidate: domain.Record{Name: "Whisper", Provider: "Meta"}, expected: -1},
		{name: "fuzzy domain mismatch", fuzzy: true, candidate: domain.Record{Name: "Whisper", Domain: domain.DomainTTS}, expected: -1},
		{name: "fuzzy domain unknown", fuzzy: true, candidate: domain.Record{Name: "Whisper", Domain: domain.DomainOther}, expected: 2},
		{name: "no keys", fuzzy: true, candidate: domain.Record{}, expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(Options{FuzzyMatching: tt.fuzzy})
			assert.Equal(t, tt.expected, e.MatchIndex(catalog(), tt.candidate))
		})
	}
}

func TestMergeNeverChangesID(t *testing.T) {
	e := NewEngine(Options{})
	for _, existing := range catalog() {
		merged := e.Merge(existing, domain.Record{ID: "other", Name: "x", Provider: "y"})
		assert.Equal(t, existing.ID, merged.ID)
	}
}

func TestMergeExistingWinsUnlessEmpty(t *testing.T) {
	e := NewEngine(Options{})
	existing := domain.Record{ID: "a", Name: "Llama", Parameters: "70B", Domain: domain.DomainOther, Indemnity: domain.IndemnityUnknown}
	incoming := domain.Record{
		Name:          "Llama Three",
		Parameters:    "8B",
		ContextWindow: "128k",
		Domain:        domain.DomainLLM,
		Indemnity:     domain.IndemnityNone,
		Downloads:     ptr(int64(10)),
	}

	merged := e.Merge(existing, incoming)
	assert.Equal(t, "Llama", merged.Name)
	assert.Equal(t, "70B", merged.Parameters)
	assert.Equal(t, "128k", merged.ContextWindow)
	assert.Equal(t, domain.DomainLLM, merged.Domain)
	assert.Equal(t, domain.IndemnityNone, merged.Indemnity)
	require.NotNil(t, merged.Downloads)
	assert.Equal(t, int64(10), *merged.Downloads)
}

func TestMergePrefersPlainTextOverCJK(t *testing.T) {
	e := NewEngine(Options{})
	existing := domain.Record{ID: "q", Name: "通义千问", Description: "阿里巴巴的大语言模型"}

	merged := e.Merge(existing, domain.Record{Name: "Qwen", Description: "Alibaba's large language model"})
	assert.Equal(t, "Qwen", merged.Name)
	assert.Equal(t, "Alibaba's large language model", merged.Description)

	translated := domain.Record{Name: "Qwen", Description: "Alibaba model", MachineTranslated: true}
	merged = e.Merge(existing, translated)
	assert.Equal(t, "通义千问", merged.Name)
	assert.Equal(t, "阿里巴巴的大语言模型", merged.Description)

	merged = e.Merge(domain.Record{ID: "q", Name: "Qwen"}, domain.Record{Name: "Qwen2"})
	assert.Equal(t, "Qwen", merged.Name)
}

func TestMergeUnionsPricingTagsAndFlags(t *testing.T) {
	e := NewEngine(Options{})
	existing := domain.Record{
		ID:      "a",
		Tags:    domain.StringArray{"Chat", "open"},
		License: domain.License{Name: "Llama", Type: domain.LicenseCustom},
		Hosting: domain.Hosting{WeightsAvailable: true, Providers: []string{"Together"}},
		Pricing: []domain.PricingEntry{
			{Model: ptr("70b"), Input: ptr(0.59), Currency: ptr("usd")},
		},
	}
	incoming := domain.Record{
		Tags:    domain.StringArray{"chat", "Code"},
		License: domain.License{Name: "Other", Type: domain.LicenseOSI, CommercialUse: true},
		Hosting: domain.Hosting{APIAvailable: true, Providers: []string{"together", "Groq"}},
		Pricing: []domain.PricingEntry{
			{Model: ptr("70B"), Input: ptr(0.59), Currency: ptr("USD")},
			{Flat: ptr(20.0), Currency: ptr("USD")},
		},
	}

	merged := e.Merge(existing, incoming)
	assert.Equal(t, []string{"Chat", "open", "Code"}, []string(merged.Tags))
	assert.Equal(t, "Llama", merged.License.Name)
	assert.Equal(t, domain.LicenseCustom, merged.License.Type)
	assert.True(t, merged.License.CommercialUse)
	assert.True(t, merged.Hosting.WeightsAvailable)
	assert.True(t, merged.Hosting.APIAvailable)
	assert.Equal(t, []string{"Together", "Groq"}, merged.Hosting.Providers)
	require.Len(t, merged.Pricing, 2)
	assert.Equal(t, 20.0, *merged.Pricing[1].Flat)
}

func TestMergeIncomingPreservesUserFlags(t *testing.T) {
	e := NewEngine(Options{})
	existing := catalog()
	existing[0].IsFavorite = true
	existing[0].FlaggedImageURLs = domain.StringArray{"https://img/1.png"}

	res := e.MergeIncoming(existing, []domain.Record{
		{ID: "a", Description: "updated", IsFavorite: false, IsNSFWFlagged: true},
		{Name: "Brand New", Provider: "Acme"},
	})

	require.Len(t, res.Records, 4)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Added)

	a := res.Records[0]
	assert.Equal(t, "updated", a.Description)
	assert.True(t, a.IsFavorite)
	assert.False(t, a.IsNSFWFlagged)
	assert.Equal(t, domain.StringArray{"https://img/1.png"}, a.FlaggedImageURLs)

	added := res.Records[3]
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, domain.DomainOther, added.Domain)

	// Input catalog is untouched.
	assert.Empty(t, existing[0].Description)
}

func TestMergeIncomingWithoutFuzzyAddsNewEntries(t *testing.T) {
	res := NewEngine(Options{}).MergeIncoming(catalog(), []domain.Record{{Name: "Whisper", Provider: "OpenAI"}})
	assert.Equal(t, 1, res.Added)
	assert.Len(t, res.Records, 4)

	res = NewEngine(Options{FuzzyMatching: true}).MergeIncoming(catalog(), []domain.Record{{Name: "Whisper", Provider: "OpenAI"}})
	assert.Equal(t, 1, res.Updated)
	assert.Len(t, res.Records, 3)
}

func TestDedupeLastWriteWins(t *testing.T) {
	e := NewEngine(Options{})
	out := e.Dedupe([]domain.Record{
		{ID: "a", Name: "first"},
		{ID: "b", Name: "b"},
		{Name: "anonymous"},
		{ID: "a", Name: "second"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "second", out[0].Name)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "anonymous", out[2].Name)
}

func TestContainsCJK(t *testing.T) {
	assert.True(t, ContainsCJK("模型"))
	assert.True(t, ContainsCJK("カタカナ"))
	assert.True(t, ContainsCJK("한국어"))
	assert.False(t, ContainsCJK("Llama 3"))
	assert.False(t, ContainsCJK(""))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "llama370b", NormalizeName("Llama-3 (70B)"))
	assert.Equal(t, NormalizeName("ＧＰＴ－４"), NormalizeName("gpt 4"))
}
