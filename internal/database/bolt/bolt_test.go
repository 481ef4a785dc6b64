package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

var testLayout = descriptor.Layout{GridRows: 1, GridCols: 1, BinCount: 4, Policy: descriptor.PolicyClip}

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faces.db")
	s, err := New(path, testLayout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func newRecord(t *testing.T, owner string, bins ...uint32) database.IndexRecord {
	t.Helper()
	d, err := descriptor.New(testLayout, bins)
	if err != nil {
		t.Fatalf("descriptor.New: %v", err)
	}
	return database.IndexRecord{
		FaceID:     owner + "-face",
		OwnerID:    owner,
		Region:     database.FaceRegion{X: 1, Y: 2, Width: 30, Height: 40, Angle: 0.5},
		Descriptor: d,
		Thumbnail:  []byte{0xFF, 0xD8},
	}
}

func TestStore_AppendGet(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	in := newRecord(t, "a.jpg", 1, 2, 3, 4)
	id, err := s.Append(ctx, in)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != id || got.OwnerID != "a.jpg" || got.FaceID != "a.jpg-face" {
		t.Errorf("unexpected record %+v", got)
	}
	if got.Region != in.Region {
		t.Errorf("region = %+v, want %+v", got.Region, in.Region)
	}
	if !got.Descriptor.Equal(in.Descriptor) {
		t.Errorf("descriptor = %v, want %v", got.Descriptor.Bins(), in.Descriptor.Bins())
	}
	if len(got.Thumbnail) != 2 || got.CreatedAt.IsZero() {
		t.Errorf("thumbnail/created_at not persisted: %+v", got)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Get(context.Background(), database.FormatRecordID(99))
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	var se *database.StoreError
	if !errors.As(err, &se) {
		t.Errorf("error %T is not a StoreError", err)
	}
}

func TestStore_ScanInsertionOrder(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	var ids []string
	for i := range 12 {
		id, err := s.Append(ctx, newRecord(t, "owner.jpg", uint32(i), 0, 0, 0))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		ids = append(ids, id)
	}

	var got []string
	for rec, err := range s.Scan(ctx) {
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, rec.ID)
	}
	if len(got) != len(ids) {
		t.Fatalf("scanned %d records, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("scan position %d = %s, want %s", i, got[i], ids[i])
		}
	}

	// The sequence is restartable and can be abandoned early.
	n := 0
	for range s.Scan(ctx) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("early break visited %d records", n)
	}
}

func TestStore_ScanCanceled(t *testing.T) {
	s, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.Append(ctx, newRecord(t, "a.jpg", 1, 1, 1, 1)); err != nil {
		t.Fatal(err)
	}
	cancel()

	for _, err := range s.Scan(ctx) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	}
}

func TestStore_RemoveByOwner(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	for _, owner := range []string{"a.jpg", "b.jpg", "a.jpg", "c.jpg"} {
		if _, err := s.Append(ctx, newRecord(t, owner, 1, 0, 0, 0)); err != nil {
			t.Fatal(err)
		}
	}

	owners, _ := s.Owners(ctx)
	if owners != 3 {
		t.Errorf("Owners() = %d, want 3", owners)
	}

	n, err := s.RemoveByOwner(ctx, "a.jpg")
	if err != nil {
		t.Fatalf("RemoveByOwner: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}

	count, _ := s.Count(ctx)
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
	for rec, err := range s.Scan(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		if rec.OwnerID == "a.jpg" {
			t.Errorf("record %s of removed owner still scanned", rec.ID)
		}
	}

	n, err = s.RemoveByOwner(ctx, "missing.jpg")
	if err != nil || n != 0 {
		t.Errorf("RemoveByOwner(missing) = %d, %v", n, err)
	}
}

func TestStore_LayoutMismatch(t *testing.T) {
	s, path := setupStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	other := descriptor.Layout{GridRows: 2, GridCols: 2, BinCount: 4, Policy: descriptor.PolicyClip}
	if _, err := New(path, other); !errors.Is(err, database.ErrLayoutMismatch) {
		t.Errorf("reopen with other layout error = %v, want ErrLayoutMismatch", err)
	}

	reopened, err := New(path, testLayout)
	if err != nil {
		t.Fatalf("reopen with same layout: %v", err)
	}
	_ = reopened.Close()
}

func TestStore_ExtractionMismatch(t *testing.T) {
	s, path := setupStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		extraction string
	}{
		{"bit depth", descriptor.ExtractionTag(4, false, 0, 0)},
		{"dog filter", descriptor.ExtractionTag(8, true, 1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := testLayout
			other.Extraction = tt.extraction
			if _, err := New(path, other); !errors.Is(err, database.ErrLayoutMismatch) {
				t.Errorf("reopen error = %v, want ErrLayoutMismatch", err)
			}
		})
	}
}

func TestStore_AppendRejectsForeignLayout(t *testing.T) {
	s, _ := setupStore(t)
	d, _ := descriptor.New(descriptor.Layout{GridRows: 1, GridCols: 1, BinCount: 2, Policy: descriptor.PolicyClip}, []uint32{1, 2})

	_, err := s.Append(context.Background(), database.IndexRecord{OwnerID: "x", Descriptor: d})
	if !errors.Is(err, database.ErrLayoutMismatch) {
		t.Errorf("error = %v, want ErrLayoutMismatch", err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()
	id, err := s.Append(ctx, newRecord(t, "a.jpg", 4, 3, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(path, testLayout)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Descriptor.Bin(0) != 4 {
		t.Errorf("bin 0 = %d, want 4", got.Descriptor.Bin(0))
	}

	next, err := reopened.Append(ctx, newRecord(t, "b.jpg", 1, 1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if next <= id {
		t.Errorf("new id %s not after %s", next, id)
	}
}
