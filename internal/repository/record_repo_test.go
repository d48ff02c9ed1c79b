package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/modelcatalog/internal/config"
	"github.com/timmy/modelcatalog/internal/domain"
)

func newTestRepo(t *testing.T) *RecordRepository {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "catalog.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewRecordRepository(db)
}

func TestSnapshotRoundTripKeepsOrderAndFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	downloads := int64(1200)
	price := 0.5
	currency := "USD"
	records := []domain.Record{
		{
			ID:         "z",
			Name:       "Zeta",
			Domain:     domain.DomainLLM,
			Tags:       domain.StringArray{"chat", "code"},
			License:    domain.License{Name: "Apache-2.0", Type: domain.LicenseOSI, CommercialUse: true},
			Hosting:    domain.Hosting{WeightsAvailable: true, Providers: []string{"HF"}},
			Pricing:    []domain.PricingEntry{{Input: &price, Currency: &currency}},
			Downloads:  &downloads,
			IsFavorite: true,
		},
		{ID: "a", Name: "Alpha", Domain: domain.DomainTTS, FlaggedImageURLs: domain.StringArray{"https://x/1.png"}},
	}
	require.NoError(t, repo.SaveSnapshot(ctx, records))

	got, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "z", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, []string{"chat", "code"}, []string(got[0].Tags))
	assert.Equal(t, "Apache-2.0", got[0].License.Name)
	assert.True(t, got[0].Hosting.WeightsAvailable)
	require.Len(t, got[0].Pricing, 1)
	assert.Equal(t, 0.5, *got[0].Pricing[0].Input)
	assert.Equal(t, int64(1200), *got[0].Downloads)
	assert.True(t, got[0].IsFavorite)
	assert.Equal(t, []string{"https://x/1.png"}, []string(got[1].FlaggedImageURLs))
}

func TestSaveSnapshotReplacesPreviousCatalog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, []domain.Record{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}))
	require.NoError(t, repo.SaveSnapshot(ctx, []domain.Record{{ID: "c", Name: "C"}}))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.SaveSnapshot(ctx, nil))
	got, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveSnapshotRollsBackOnDuplicateID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, []domain.Record{{ID: "keep", Name: "Keep"}}))
	err := repo.SaveSnapshot(ctx, []domain.Record{{ID: "dup", Name: "One"}, {ID: "dup", Name: "Two"}})
	require.Error(t, err)

	got, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)
}
