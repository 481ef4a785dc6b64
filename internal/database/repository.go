package database

import (
	"context"
	"iter"

	"github.com/kozaktomas/face-search/internal/descriptor"
)

// IndexReader provides read-only access to indexed faces
type IndexReader interface {
	// Scan yields every record once, in insertion order. Each record is read
	// atomically; a failing read yields (nil, err) and ends the sequence.
	Scan(ctx context.Context) iter.Seq2[*IndexRecord, error]
	// Get retrieves a record by ID, returns ErrNotFound if absent
	Get(ctx context.Context, id string) (*IndexRecord, error)
	// Count returns the total number of records stored
	Count(ctx context.Context) (int, error)
	// Owners returns the number of distinct owners
	Owners(ctx context.Context) (int, error)
}

// IndexWriter provides write access to indexed faces
type IndexWriter interface {
	IndexReader

	// Append stores a new record and returns its assigned ID. rec.ID is ignored.
	Append(ctx context.Context, rec IndexRecord) (string, error)

	// RemoveByOwner deletes all records of an owner and returns how many were removed.
	RemoveByOwner(ctx context.Context, ownerID string) (int, error)
}

// Store is an IndexWriter bound to an open backend.
type Store interface {
	IndexWriter

	// Layout returns the descriptor layout the store was opened with.
	Layout() descriptor.Layout

	// Close releases the backend. It is called exactly once by the owner.
	Close() error
}

// CandidateSearcher is implemented by stores that can pre-select likely matches
// before exact ranking.
type CandidateSearcher interface {
	// Candidates returns up to n records approximately nearest to d.
	Candidates(ctx context.Context, d descriptor.Descriptor, n int) ([]*IndexRecord, error)
}
