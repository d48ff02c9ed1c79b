package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/modelcatalog/internal/domain"
)

func chunk() []domain.Record {
	return []domain.Record{
		{ID: "1", Name: "Alpha", Provider: "A", Parameters: "7B", IsFavorite: true, FlaggedImageURLs: domain.StringArray{"x"}},
		{ID: "2", Name: "Beta", Provider: "B", Description: "beta model"},
		{ID: "3", Name: "Gamma", Provider: "C", IsNSFWFlagged: true},
	}
}

func ids(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestRepairChunkPartialReplyKeepsEveryRecord(t *testing.T) {
	decoded := []domain.Record{
		{ID: "2", Name: "Beta", Description: "Beta, a 13B model", Parameters: "13B", License: domain.License{Name: "ignored"}},
	}

	out := RepairChunk(chunk(), decoded, nil)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"1", "2", "3"}, ids(out))
	assert.Equal(t, chunk()[0], out[0])
	assert.Equal(t, chunk()[2], out[2])

	assert.Equal(t, "Beta, a 13B model", out[1].Description)
	assert.Equal(t, "13B", out[1].Parameters)
	assert.Equal(t, "B", out[1].Provider)
	assert.Empty(t, out[1].License.Name, "non-descriptive fields are not folded from a partial reply")
}

func TestRepairChunkEmptyReplyIsNoop(t *testing.T) {
	assert.Equal(t, chunk(), RepairChunk(chunk(), nil, nil))
}

func TestRepairChunkFullReplyOverlaysAndProtectsFlags(t *testing.T) {
	decoded := []domain.Record{
		{ID: "3", Name: "Gamma", Description: "new gamma", IsNSFWFlagged: false, IsFavorite: true},
		{ID: "1", Name: "Alpha", Provider: "", License: domain.License{Name: "MIT", Type: domain.LicenseOSI}},
		{ID: "", Name: "beta"},
		{ID: "99", Name: "Invented"},
	}

	out := RepairChunk(chunk(), decoded, nil)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"1", "2", "3"}, ids(out))

	assert.Equal(t, "A", out[0].Provider)
	assert.Equal(t, "7B", out[0].Parameters)
	assert.Equal(t, "MIT", out[0].License.Name)
	assert.True(t, out[0].IsFavorite)
	assert.Equal(t, domain.StringArray{"x"}, out[0].FlaggedImageURLs)

	assert.Equal(t, "beta model", out[1].Description, "matched by name, empty cells fall back")

	assert.Equal(t, "new gamma", out[2].Description)
	assert.True(t, out[2].IsNSFWFlagged)
	assert.False(t, out[2].IsFavorite)
}

func TestRepairChunkAbsentColumnsKeepOriginal(t *testing.T) {
	originals := []domain.Record{{
		ID:      "1",
		Name:    "Alpha",
		License: domain.License{Type: domain.LicenseProprietary, CommercialUse: true},
		Hosting: domain.Hosting{},
	}}
	// Decode defaults for a reply that only sent id, name and description.
	decoded := []domain.Record{{
		ID:          "1",
		Name:        "Alpha",
		Description: "checked",
		License:     domain.License{Type: domain.LicenseCustom},
		Hosting:     domain.Hosting{WeightsAvailable: true, APIAvailable: true, OnPremiseFriendly: true},
	}}

	out := RepairChunk(originals, decoded, []string{"id", "name", "description"})
	require.Len(t, out, 1)
	assert.Equal(t, "checked", out[0].Description)
	assert.Equal(t, originals[0].License, out[0].License)
	assert.Equal(t, originals[0].Hosting, out[0].Hosting)

	out = RepairChunk(originals, decoded, nil)
	assert.Equal(t, domain.LicenseCustom, out[0].License.Type)
	assert.True(t, out[0].Hosting.APIAvailable)
}

func TestFoldEnrichment(t *testing.T) {
	original := domain.Record{
		ID:               "r1",
		Name:             "Model",
		Tags:             domain.StringArray{"chat"},
		License:          domain.License{Type: domain.LicenseCustom, AttributionRequired: true},
		Hosting:          domain.Hosting{WeightsAvailable: true, Providers: []string{"hf"}},
		IsFavorite:       true,
		FlaggedImageURLs: domain.StringArray{"img"},
		Parameters:       "7B",
	}
	enriched := domain.Record{
		ID:         "something-else",
		License:    domain.License{Name: "Apache-2.0", Type: domain.LicenseOSI, CommercialUse: true},
		Hosting:    domain.Hosting{APIAvailable: true, Providers: []string{"HF", "replicate"}},
		Tags:       domain.StringArray{"Chat", "code"},
		IsFavorite: false,
	}

	out := FoldEnrichment(original, enriched)

	assert.Equal(t, "r1", out.ID)
	assert.Equal(t, "Model", out.Name)
	assert.Equal(t, "7B", out.Parameters)
	assert.Equal(t, domain.License{Name: "Apache-2.0", Type: domain.LicenseOSI, CommercialUse: true, AttributionRequired: true}, out.License)
	assert.True(t, out.Hosting.WeightsAvailable)
	assert.True(t, out.Hosting.APIAvailable)
	assert.Equal(t, []string{"hf", "replicate"}, out.Hosting.Providers)
	assert.Equal(t, []string{"chat", "code"}, []string(out.Tags))
	assert.True(t, out.IsFavorite)
	assert.Equal(t, domain.StringArray{"img"}, out.FlaggedImageURLs)
}
