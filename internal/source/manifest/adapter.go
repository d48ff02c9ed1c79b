package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/source"
)

// maxLineSize bounds one JSONL line; long descriptions exceed bufio's default.
const maxLineSize = 4 * 1024 * 1024

// Adapter implements the Source interface for a JSON Lines manifest, one
// record object per line.
type Adapter struct {
	path    string
	records []domain.Record
	skipped int
	loaded  bool
}

// NewAdapter creates a new manifest adapter.
// Parameters:
//   - path: path to the .jsonl manifest.
// Returns:
//   - *Adapter: initialized manifest adapter.
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "manifest:" + filepath.Base(a.path)
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Manifest (%s)", filepath.Base(a.path))
}

// FetchBatch fetches a batch of records from the manifest.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of records to fetch.
// Returns:
//   - []domain.Record: batch of records.
//   - string: next cursor or empty if no more records.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error) {
	if !a.loaded {
		if err := a.load(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to load manifest: %w", err)
		}
		a.loaded = true
	}
	return source.Paginate(a.records, cursor, limit)
}

// Skipped returns the number of lines that could not be parsed.
func (a *Adapter) Skipped() int {
	return a.skipped
}

func (a *Adapter) load(ctx context.Context) error {
	file, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.records = []domain.Record{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var r domain.Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			a.skipped++
			logger.CtxWarn(ctx, "Skipping manifest line %d: %v", lineNum, err)
			continue
		}
		if strings.TrimSpace(r.Name) == "" {
			a.skipped++
			continue
		}
		a.records = append(a.records, r)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	return nil
}
