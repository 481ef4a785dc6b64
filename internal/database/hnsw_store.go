package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kozaktomas/face-search/internal/descriptor"
)

// HNSWStore decorates a Store with an in-memory HNSW index that is kept in sync on
// Append and RemoveByOwner. It is not safe for concurrent writes; the engine
// coordinator serializes all calls.
type HNSWStore struct {
	Store

	index  *HNSWIndex
	path   string              // Path to persist the graph (optional)
	owners map[string][]string // owner ID -> record IDs
	logger *slog.Logger
}

// NewHNSWStore loads the index from path when it matches the store's layout,
// otherwise builds it from a full scan of inner.
func NewHNSWStore(ctx context.Context, inner Store, path string, logger *slog.Logger) (*HNSWStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HNSWStore{
		Store:  inner,
		index:  NewHNSWIndex(),
		path:   path,
		owners: make(map[string][]string),
		logger: logger,
	}

	loaded := s.tryLoad()
	if err := s.sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to build HNSW index: %w", err)
	}
	s.logger.Info("hnsw index ready", "records", s.index.Count(), "from_disk", loaded)
	return s, nil
}

// tryLoad loads a persisted graph whose metadata matches the store layout.
func (s *HNSWStore) tryLoad() bool {
	if s.path == "" {
		return false
	}
	if _, err := os.Stat(s.path); err != nil {
		return false
	}
	meta, err := LoadHNSWMetadata(s.path)
	if err != nil {
		s.logger.Warn("ignoring HNSW index without usable metadata", "path", s.path, "error", err)
		return false
	}
	if meta.Layout != s.Layout().String() {
		s.logger.Warn("ignoring HNSW index built for another layout", "path", s.path, "layout", meta.Layout)
		return false
	}
	if err := s.index.Load(s.path); err != nil {
		s.logger.Warn("failed to load HNSW index, rebuilding", "path", s.path, "error", err)
		s.index = NewHNSWIndex()
		return false
	}
	return true
}

// sync marks every stored record live, adding those missing from the graph.
func (s *HNSWStore) sync(ctx context.Context) error {
	for rec, err := range s.Store.Scan(ctx) {
		if err != nil {
			return err
		}
		s.track(rec.ID, rec.OwnerID, rec.Descriptor)
	}
	return nil
}

func (s *HNSWStore) track(id, owner string, d descriptor.Descriptor) {
	s.index.Add(id, d.Normalized())
	s.owners[owner] = append(s.owners[owner], id)
}

// Append stores the record and adds it to the index.
func (s *HNSWStore) Append(ctx context.Context, rec IndexRecord) (string, error) {
	id, err := s.Store.Append(ctx, rec)
	if err != nil {
		return "", err
	}
	s.track(id, rec.OwnerID, rec.Descriptor)
	return id, nil
}

// RemoveByOwner removes the owner's records from the store and the index.
func (s *HNSWStore) RemoveByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := s.Store.RemoveByOwner(ctx, ownerID)
	if err != nil {
		return n, err
	}
	for _, id := range s.owners[ownerID] {
		s.index.Delete(id)
	}
	delete(s.owners, ownerID)
	return n, nil
}

// Candidates returns up to n records approximately nearest to d, nearest first.
func (s *HNSWStore) Candidates(ctx context.Context, d descriptor.Descriptor, n int) ([]*IndexRecord, error) {
	ids := s.index.Search(d.Normalized(), n*HNSWSearchMultiplier)

	out := make([]*IndexRecord, 0, min(n, len(ids)))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.Store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, WrapStoreError("candidates", err)
		}
		out = append(out, rec)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// IndexCount returns the number of live records in the HNSW index.
func (s *HNSWStore) IndexCount() int {
	return s.index.Count()
}

// Save persists the index if a path is configured.
func (s *HNSWStore) Save() error {
	if s.path == "" {
		return nil
	}
	meta := HNSWIndexMetadata{
		Records:   s.index.Count(),
		Layout:    s.Layout().String(),
		BuildTime: time.Now().UTC(),
	}
	if err := s.index.Save(s.path, meta); err != nil {
		return fmt.Errorf("saving HNSW index: %w", err)
	}
	s.logger.Info("hnsw index saved", "path", s.path, "records", meta.Records)
	return nil
}

// Close saves the index and closes the underlying store.
func (s *HNSWStore) Close() error {
	saveErr := s.Save()
	if err := s.Store.Close(); err != nil {
		return errors.Join(saveErr, err)
	}
	return saveErr
}
