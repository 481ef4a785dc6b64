// Package mock provides an in-memory implementation of database.Store for tests
// and for the "memory" backend.
package mock

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

// Store is an in-memory database.Store
type Store struct {
	mu      sync.RWMutex
	layout  descriptor.Layout
	seq     uint64
	order   []string // record IDs in insertion order
	records map[string]*database.IndexRecord
	closed  bool
	closes  int

	// Error injection
	AppendError error
	GetError    error
	CountError  error
	RemoveError error
	CloseError  error
	// ScanError is yielded after ScanErrorAfter records have been produced.
	ScanError      error
	ScanErrorAfter int
}

// NewStore creates an empty in-memory store for layout.
func NewStore(layout descriptor.Layout) *Store {
	return &Store{
		layout:  layout,
		records: make(map[string]*database.IndexRecord),
	}
}

// Open is a database.OpenFunc for the memory backend.
func Open(_ context.Context, _ *config.StoreConfig, layout descriptor.Layout) (database.Store, error) {
	return NewStore(layout), nil
}

// Layout returns the descriptor layout of the store.
func (m *Store) Layout() descriptor.Layout {
	return m.layout
}

// Append stores a copy of rec under a new ID
func (m *Store) Append(ctx context.Context, rec database.IndexRecord) (string, error) {
	if m.AppendError != nil {
		return "", database.WrapStoreError("append", m.AppendError)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", database.WrapStoreError("append", database.ErrClosed)
	}
	if rec.Descriptor.Layout() != m.layout {
		return "", database.WrapStoreError("append", database.ErrLayoutMismatch)
	}

	m.seq++
	rec.ID = database.FormatRecordID(m.seq)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = &rec
	m.order = append(m.order, rec.ID)
	return rec.ID, nil
}

// Scan yields records in insertion order over a snapshot taken at the first step.
func (m *Store) Scan(ctx context.Context) iter.Seq2[*database.IndexRecord, error] {
	return func(yield func(*database.IndexRecord, error) bool) {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield(nil, database.WrapStoreError("scan", database.ErrClosed))
			return
		}
		snapshot := make([]database.IndexRecord, 0, len(m.order))
		for _, id := range m.order {
			snapshot = append(snapshot, *m.records[id])
		}
		m.mu.RUnlock()

		for i := range snapshot {
			if m.ScanError != nil && i == m.ScanErrorAfter {
				yield(nil, database.WrapStoreError("scan", m.ScanError))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, database.WrapStoreError("scan", err))
				return
			}
			if !yield(&snapshot[i], nil) {
				return
			}
		}
		if m.ScanError != nil && m.ScanErrorAfter >= len(snapshot) {
			yield(nil, database.WrapStoreError("scan", m.ScanError))
		}
	}
}

// Get retrieves a record by ID
func (m *Store) Get(ctx context.Context, id string) (*database.IndexRecord, error) {
	if m.GetError != nil {
		return nil, database.WrapStoreError("get", m.GetError)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, database.WrapStoreError("get", database.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// Count returns the total number of records
func (m *Store) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, database.WrapStoreError("count", m.CountError)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Owners returns the number of distinct owners
func (m *Store) Owners(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, database.WrapStoreError("owners", m.CountError)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	owners := make(map[string]struct{})
	for _, rec := range m.records {
		owners[rec.OwnerID] = struct{}{}
	}
	return len(owners), nil
}

// RemoveByOwner deletes all records of ownerID
func (m *Store) RemoveByOwner(ctx context.Context, ownerID string) (int, error) {
	if m.RemoveError != nil {
		return 0, database.WrapStoreError("remove", m.RemoveError)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, database.WrapStoreError("remove", database.ErrClosed)
	}

	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.records[id].OwnerID == ownerID {
			delete(m.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

// Close marks the store closed and counts the call
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.closed = true
	if m.CloseError != nil {
		return database.WrapStoreError("close", m.CloseError)
	}
	return nil
}

// Closed reports whether Close has been called.
func (m *Store) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// CloseCount returns how many times Close has been called.
func (m *Store) CloseCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closes
}
