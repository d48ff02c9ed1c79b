package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/timmy/modelcatalog/internal/domain"
)

const (
	latestSnapshotName = "latest.json"
	snapshotPrefix     = "catalog-"
	snapshotTimeLayout = "20060102T150405Z"
)

// SnapshotExporter writes JSON copies of the catalog to object storage.
// Every export produces a timestamped object and refreshes latest.json.
type SnapshotExporter struct {
	store  ObjectStorage
	prefix string
	now    func() time.Time
}

// NewSnapshotExporter creates an exporter writing under prefix.
func NewSnapshotExporter(store ObjectStorage, prefix string) *SnapshotExporter {
	return &SnapshotExporter{store: store, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// Export uploads records and returns the key of the timestamped copy.
func (e *SnapshotExporter) Export(ctx context.Context, records []domain.Record) (string, error) {
	if records == nil {
		records = []domain.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := path.Join(e.prefix, snapshotPrefix+e.now().UTC().Format(snapshotTimeLayout)+".json")
	for _, k := range []string{key, path.Join(e.prefix, latestSnapshotName)} {
		if err := e.store.Put(ctx, k, data, "application/json"); err != nil {
			return "", err
		}
	}
	return key, nil
}

// Latest downloads the most recent export. It returns nil records and no
// error when nothing has been exported yet.
func (e *SnapshotExporter) Latest(ctx context.Context) ([]domain.Record, error) {
	records, err := e.Load(ctx, path.Join(e.prefix, latestSnapshotName))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	return records, err
}

// Load downloads and decodes the snapshot stored under key.
func (e *SnapshotExporter) Load(ctx context.Context, key string) ([]domain.Record, error) {
	data, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return records, nil
}

// History lists the timestamped snapshot keys, newest first.
func (e *SnapshotExporter) History(ctx context.Context) ([]string, error) {
	listPrefix := snapshotPrefix
	if e.prefix != "" {
		listPrefix = e.prefix + "/" + snapshotPrefix
	}
	keys, err := e.store.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ".json") {
			out = append(out, k)
		}
	}
	// The timestamp layout sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
