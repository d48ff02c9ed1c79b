package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/modelcatalog/internal/domain"
)

// recordRow persists a Record together with its position in the catalog.
type recordRow struct {
	domain.Record `gorm:"embedded"`
	Position      int `gorm:"not null;index:idx_records_position"`
}

func (recordRow) TableName() string {
	return "records"
}

// RecordRepository stores the catalog snapshot.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// LoadSnapshot returns every record in catalog order.
func (r *RecordRepository) LoadSnapshot(ctx context.Context) ([]domain.Record, error) {
	var rows []recordRow
	if err := r.db.WithContext(ctx).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	out := make([]domain.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].Record
	}
	return out, nil
}

// SaveSnapshot replaces the stored catalog with records in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - records: the full catalog; ids must be unique.
// Returns:
//   - error: non-nil if the transaction is rolled back.
func (r *RecordRepository) SaveSnapshot(ctx context.Context, records []domain.Record) error {
	rows := make([]recordRow, len(records))
	for i, rec := range records {
		rows[i] = recordRow{Record: rec, Position: i}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&recordRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	})
}

// Count returns the number of stored records.
func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&recordRow{}).Count(&count).Error
	return count, err
}
