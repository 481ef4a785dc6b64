// Package mariadb implements the face store on MariaDB/MySQL, with descriptors
// kept as LONGBLOB.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS store_meta (
		meta_key   VARCHAR(64) NOT NULL PRIMARY KEY,
		meta_value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS face_records (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		face_id     VARCHAR(64) NOT NULL,
		owner_id    VARCHAR(768) NOT NULL,
		x           INT NOT NULL,
		y           INT NOT NULL,
		width       INT NOT NULL,
		height      INT NOT NULL,
		angle       DOUBLE NOT NULL DEFAULT 0,
		descriptor  LONGBLOB NOT NULL,
		thumbnail   MEDIUMBLOB NULL,
		preview     MEDIUMBLOB NULL,
		created_at  DATETIME(6) NOT NULL,
		INDEX face_records_owner_id_idx (owner_id)
	) DEFAULT CHARSET = utf8mb4`,
}

const recordColumns = `id, face_id, owner_id, x, y, width, height, angle, descriptor, thumbnail, preview, created_at`

// Store provides MariaDB-backed face record storage.
type Store struct {
	pool   *Pool
	layout descriptor.Layout
}

// Open is a database.OpenFunc for the mariadb backend.
func Open(ctx context.Context, cfg *config.StoreConfig, layout descriptor.Layout) (database.Store, error) {
	pool, err := NewPool(ctx, cfg.MariaDBDSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, database.WrapStoreError("open", err)
	}
	s, err := NewStore(ctx, pool, layout)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates the schema if needed and binds the store to layout.
func NewStore(ctx context.Context, pool *Pool, layout descriptor.Layout) (*Store, error) {
	for _, stmt := range schema {
		if _, err := pool.db.ExecContext(ctx, stmt); err != nil {
			return nil, database.WrapStoreError("open", fmt.Errorf("create schema: %w", err))
		}
	}

	_, err := pool.db.ExecContext(ctx,
		`INSERT IGNORE INTO store_meta (meta_key, meta_value) VALUES ('layout', ?)`, layout.String())
	if err != nil {
		return nil, database.WrapStoreError("open", err)
	}
	var stored string
	err = pool.db.QueryRowContext(ctx, `SELECT meta_value FROM store_meta WHERE meta_key = 'layout'`).Scan(&stored)
	if err != nil {
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

// Append inserts rec and returns the auto-increment ID.
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

	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO face_records (face_id, owner_id, x, y, width, height, angle,
		                          descriptor, thumbnail, preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.FaceID, rec.OwnerID, rec.Region.X, rec.Region.Y, rec.Region.Width, rec.Region.Height, rec.Region.Angle,
		blob, rec.Thumbnail, rec.Preview, rec.CreatedAt)
	if err != nil {
		return "", database.WrapStoreError("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", database.WrapStoreError("append", err)
	}
	return database.FormatRecordID(uint64(id)), nil
}

// Scan streams all records ordered by ID.
func (s *Store) Scan(ctx context.Context) iter.Seq2[*database.IndexRecord, error] {
	return func(yield func(*database.IndexRecord, error) bool) {
		rows, err := s.pool.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM face_records ORDER BY id`)
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
	row := s.pool.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM face_records WHERE id = ?`, seq)
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
	if err := s.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_records`).Scan(&n); err != nil {
		return 0, database.WrapStoreError("count", err)
	}
	return n, nil
}

// Owners returns the number of distinct owners.
func (s *Store) Owners(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT owner_id) FROM face_records`).Scan(&n); err != nil {
		return 0, database.WrapStoreError("owners", err)
	}
	return n, nil
}

// RemoveByOwner deletes all records of ownerID.
func (s *Store) RemoveByOwner(ctx context.Context, ownerID string) (int, error) {
	res, err := s.pool.db.ExecContext(ctx, `DELETE FROM face_records WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, database.WrapStoreError("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.WrapStoreError("remove", err)
	}
	return int(n), nil
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
		id   uint64
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
	rec.ID = database.FormatRecordID(id)
	return &rec, nil
}
