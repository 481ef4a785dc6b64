package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

// maxSparseNonZero is the pgvector limit of non-zero elements per sparsevec.
// Histograms above it are stored without the sparsevec column and are never
// returned as candidates.
const maxSparseNonZero = 16000

const recordColumns = `id, face_id, owner_id, x, y, width, height, angle, descriptor, thumbnail, preview, created_at`

// Store provides PostgreSQL-backed face record storage. Histograms are mirrored
// into a pgvector sparsevec column for candidate pre-selection.
type Store struct {
	pool   *Pool
	layout descriptor.Layout
}

// Open is a database.OpenFunc for the postgres backend. It runs pending
// migrations and verifies the stored descriptor layout.
func Open(ctx context.Context, cfg *config.StoreConfig, layout descriptor.Layout) (database.Store, error) {
	pool, err := NewPool(ctx, cfg, nil)
	if err != nil {
		return nil, database.WrapStoreError("open", err)
	}
	s, err := NewStore(ctx, pool, layout)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore migrates the schema and binds the store to layout.
func NewStore(ctx context.Context, pool *Pool, layout descriptor.Layout) (*Store, error) {
	if err := pool.Migrate(ctx); err != nil {
		return nil, database.WrapStoreError("open", fmt.Errorf("failed to run migrations: %w", err))
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO store_meta (key, value) VALUES ('layout', $1) ON CONFLICT (key) DO NOTHING`,
		layout.String())
	if err != nil {
		return nil, database.WrapStoreError("open", err)
	}
	var stored string
	if err := pool.QueryRow(ctx, `SELECT value FROM store_meta WHERE key = 'layout'`).Scan(&stored); err != nil {
		return nil, database.WrapStoreError("open", err)
	}
	if stored != layout.String() {
		return nil, database.WrapStoreError("open", fmt.Errorf("%w: store has %s, configured %s",
			database.ErrLayoutMismatch, stored, layout))
	}

	return &Store{pool: pool, layout: layout}, nil
}

// Layout returns the descriptor layout of the store.
func (s *Store) Layout() descriptor.Layout {
	return s.layout
}

// histogram returns the sparsevec mirror of d, or nil when it has too many
// non-zero bins for pgvector.
func histogram(d descriptor.Descriptor) any {
	dense := d.Normalized()
	nonZero := 0
	for _, v := range dense {
		if v != 0 {
			nonZero++
		}
	}
	if nonZero > maxSparseNonZero {
		return nil
	}
	return pgvector.NewSparseVector(dense)
}

// Append inserts rec and returns the generated ID.
func (s *Store) Append(ctx context.Context, rec database.IndexRecord) (string, error) {
	if rec.Descriptor.Layout() != s.layout {
		return "", database.WrapStoreError("append", fmt.Errorf("%w: record has %s, store %s",
			database.ErrLayoutMismatch, rec.Descriptor.Layout(), s.layout))
	}
	blob, err := rec.Descriptor.MarshalBinary()
	if err != nil {
		return "", database.WrapStoreError("append", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO face_records (face_id, owner_id, x, y, width, height, angle,
		                          descriptor, histogram, thumbnail, preview, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, rec.FaceID, rec.OwnerID, rec.Region.X, rec.Region.Y, rec.Region.Width, rec.Region.Height, rec.Region.Angle,
		blob, histogram(rec.Descriptor), rec.Thumbnail, rec.Preview, rec.CreatedAt).Scan(&id)
	if err != nil {
		return "", database.WrapStoreError("append", err)
	}
	return database.FormatRecordID(uint64(id)), nil
}

// Scan streams all records ordered by ID. The single SELECT sees one snapshot.
func (s *Store) Scan(ctx context.Context) iter.Seq2[*database.IndexRecord, error] {
	return func(yield func(*database.IndexRecord, error) bool) {
		rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM face_records ORDER BY id`)
		if err != nil {
			yield(nil, database.WrapStoreError("scan", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(nil, database.WrapStoreError("scan", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, database.WrapStoreError("scan", err))
		}
	}
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*database.IndexRecord, error) {
	seq, err := database.ParseRecordID(id)
	if err != nil {
		return nil, database.WrapStoreError("get", err)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM face_records WHERE id = $1`, int64(seq))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.WrapStoreError("get", fmt.Errorf("%w: %s", database.ErrNotFound, id))
	}
	if err != nil {
		return nil, database.WrapStoreError("get", err)
	}
	return rec, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_records`).Scan(&n); err != nil {
		return 0, database.WrapStoreError("count", err)
	}
	return n, nil
}

// Owners returns the number of distinct owners.
func (s *Store) Owners(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT owner_id) FROM face_records`).Scan(&n); err != nil {
		return 0, database.WrapStoreError("owners", err)
	}
	return n, nil
}

// RemoveByOwner deletes all records of ownerID.
func (s *Store) RemoveByOwner(ctx context.Context, ownerID string) (int, error) {
	res, err := s.pool.Exec(ctx, `DELETE FROM face_records WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, database.WrapStoreError("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.WrapStoreError("remove", err)
	}
	return int(n), nil
}

// Candidates returns up to n records ordered by L2 distance between normalized
// histograms, computed by pgvector.
func (s *Store) Candidates(ctx context.Context, d descriptor.Descriptor, n int) ([]*database.IndexRecord, error) {
	probe := histogram(d)
	if probe == nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM face_records
		WHERE histogram IS NOT NULL
		ORDER BY histogram <-> $1
		LIMIT $2
	`, probe, n)
	if err != nil {
		return nil, database.WrapStoreError("candidates", err)
	}
	defer rows.Close()

	var out []*database.IndexRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, database.WrapStoreError("candidates", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapStoreError("candidates", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return database.WrapStoreError("close", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*database.IndexRecord, error) {
	var (
		id   int64
		rec  database.IndexRecord
		blob []byte
	)
	err := row.Scan(&id, &rec.FaceID, &rec.OwnerID,
		&rec.Region.X, &rec.Region.Y, &rec.Region.Width, &rec.Region.Height, &rec.Region.Angle,
		&blob, &rec.Thumbnail, &rec.Preview, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := rec.Descriptor.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decode descriptor of record %d: %w", id, err)
	}
	rec.ID = database.FormatRecordID(uint64(id))
	return &rec, nil
}
