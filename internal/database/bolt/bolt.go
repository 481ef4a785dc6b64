// Package bolt implements the embedded default face store on bbolt.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

var (
	bucketFaces  = []byte("faces")  // record ID -> JSON envelope
	bucketOwners = []byte("owners") // owner ID -> bucket of record IDs
	bucketMeta   = []byte("meta")

	keyLayout = []byte("layout")
)

// envelope is the persisted form of a record.
type envelope struct {
	FaceID     string              `json:"face_id"`
	OwnerID    string              `json:"owner_id"`
	Region     database.FaceRegion `json:"region"`
	Descriptor []byte              `json:"descriptor"`
	Thumbnail  []byte              `json:"thumbnail,omitempty"`
	Preview    []byte              `json:"preview,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Store is a database.Store backed by a single bbolt file.
type Store struct {
	db     *bbolt.DB
	layout descriptor.Layout
}

// Open is a database.OpenFunc for the bolt backend.
func Open(_ context.Context, cfg *config.StoreConfig, layout descriptor.Layout) (database.Store, error) {
	return New(cfg.BoltPath, layout)
}

// New opens or creates the store at path. A store created with another
// descriptor layout fails with database.ErrLayoutMismatch.
func New(path string, layout descriptor.Layout) (*Store, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, database.WrapStoreError("open", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketFaces, bucketOwners, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		stored := meta.Get(keyLayout)
		if stored == nil {
			return meta.Put(keyLayout, []byte(layout.String()))
		}
		if string(stored) != layout.String() {
			return fmt.Errorf("%w: store has %s, configured %s", database.ErrLayoutMismatch, stored, layout)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, database.WrapStoreError("open", err)
	}

	return &Store{db: db, layout: layout}, nil
}

// Layout returns the descriptor layout of the store.
func (s *Store) Layout() descriptor.Layout {
	return s.layout
}

// Append stores rec under the next sequence number of the faces bucket.
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
	data, err := json.Marshal(envelope{
		FaceID:     rec.FaceID,
		OwnerID:    rec.OwnerID,
		Region:     rec.Region,
		Descriptor: blob,
		Thumbnail:  rec.Thumbnail,
		Preview:    rec.Preview,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return "", database.WrapStoreError("append", err)
	}

	var id string
	err = s.db.Update(func(tx *bbolt.Tx) error {
		faces := tx.Bucket(bucketFaces)
		seq, err := faces.NextSequence()
		if err != nil {
			return err
		}
		id = database.FormatRecordID(seq)
		if err := faces.Put([]byte(id), data); err != nil {
			return err
		}
		owner, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(rec.OwnerID))
		if err != nil {
			return err
		}
		return owner.Put([]byte(id), nil)
	})
	if err != nil {
		return "", database.WrapStoreError("append", err)
	}
	return id, nil
}

// errStopScan ends a View transaction when the consumer stops iterating.
var errStopScan = errors.New("stop scan")

// Scan yields records in insertion order from one read transaction, so the
// sequence sees a consistent snapshot. Callers must not write to the store from
// inside the loop.
func (s *Store) Scan(ctx context.Context) iter.Seq2[*database.IndexRecord, error] {
	return func(yield func(*database.IndexRecord, error) bool) {
		err := s.db.View(func(tx *bbolt.Tx) error {
			c := tx.Bucket(bucketFaces).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec, err := decode(k, v)
				if err != nil {
					return err
				}
				if !yield(rec, nil) {
					return errStopScan
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopScan) {
			yield(nil, database.WrapStoreError("scan", err))
		}
	}
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*database.IndexRecord, error) {
	var rec *database.IndexRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFaces).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", database.ErrNotFound, id)
		}
		var err error
		rec, err = decode([]byte(id), v)
		return err
	})
	if err != nil {
		return nil, database.WrapStoreError("get", err)
	}
	return rec, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketFaces).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, database.WrapStoreError("count", err)
	}
	return n, nil
}

// Owners returns the number of distinct owners.
func (s *Store) Owners(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOwners).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, database.WrapStoreError("owners", err)
	}
	return n, nil
}

// RemoveByOwner deletes the owner's records and its owner bucket.
func (s *Store) RemoveByOwner(ctx context.Context, ownerID string) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		owners := tx.Bucket(bucketOwners)
		owner := owners.Bucket([]byte(ownerID))
		if owner == nil {
			return nil
		}
		faces := tx.Bucket(bucketFaces)
		if err := owner.ForEach(func(id, _ []byte) error {
			removed++
			return faces.Delete(id)
		}); err != nil {
			return err
		}
		return owners.DeleteBucket([]byte(ownerID))
	})
	if err != nil {
		return 0, database.WrapStoreError("remove", err)
	}
	return removed, nil
}

// Close closes the bolt file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return database.WrapStoreError("close", err)
	}
	return nil
}

func decode(key, value []byte) (*database.IndexRecord, error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	var d descriptor.Descriptor
	if err := d.UnmarshalBinary(env.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor of %s: %w", key, err)
	}
	return &database.IndexRecord{
		ID:         string(key),
		FaceID:     env.FaceID,
		OwnerID:    env.OwnerID,
		Region:     env.Region,
		Descriptor: d,
		Thumbnail:  env.Thumbnail,
		Preview:    env.Preview,
		CreatedAt:  env.CreatedAt,
	}, nil
}
