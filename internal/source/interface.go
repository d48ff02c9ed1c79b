package source

import (
	"context"
	"fmt"
	"strconv"

	"github.com/timmy/modelcatalog/internal/domain"
)

// Source defines the interface for catalog import sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches a batch of records starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of records to fetch.
	// Returns:
	//   - records: batch of records.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (records []domain.Record, nextCursor string, err error)
}

// DefaultBatchSize is the page size used by Drain when none is given.
const DefaultBatchSize = 100

// Paginate slices items by an index cursor, the scheme used by file-backed sources.
func Paginate(items []domain.Record, cursor string, limit int) ([]domain.Record, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor: %q", cursor)
		}
	}
	if start >= len(items) {
		return []domain.Record{}, "", nil
	}
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}

	batch := make([]domain.Record, end-start)
	for i, r := range items[start:end] {
		batch[i] = r.Clone()
	}
	return batch, next, nil
}

// Drain reads every batch from src.
func Drain(ctx context.Context, src Source, batchSize int) ([]domain.Record, error) {
	var (
		out    []domain.Record
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, next, err := src.FetchBatch(ctx, cursor, batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch from %s: %w", src.GetSourceID(), err)
		}
		out = append(out, batch...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}
