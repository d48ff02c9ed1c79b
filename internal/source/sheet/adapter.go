package sheet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/timmy/modelcatalog/internal/codec"
	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/source"
)

// Adapter implements the Source interface for a spreadsheet export in the
// catalog's tabular format (one header line, one row per record).
type Adapter struct {
	path    string
	records []domain.Record
	skipped int
	loaded  bool
}

// NewAdapter creates a new spreadsheet adapter
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

// GetSourceID returns the unique identifier for this source
func (a *Adapter) GetSourceID() string {
	return "sheet:" + filepath.Base(a.path)
}

// GetDisplayName returns a human-readable name for this source
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Spreadsheet (%s)", filepath.Base(a.path))
}

// FetchBatch fetches a batch of records
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error) {
	if !a.loaded {
		if err := a.load(); err != nil {
			return nil, "", fmt.Errorf("failed to load spreadsheet: %w", err)
		}
		a.loaded = true
	}
	return source.Paginate(a.records, cursor, limit)
}

// Skipped returns the number of rows dropped while decoding.
func (a *Adapter) Skipped() int {
	return a.skipped
}

func (a *Adapter) load() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return err
	}
	res, err := codec.DecodeDetailed(string(data))
	if err != nil {
		return err
	}
	a.records = res.Records
	a.skipped = res.Skipped
	return nil
}
