package database_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/database/mock"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

var testLayout = descriptor.Layout{GridRows: 1, GridCols: 2, BinCount: 4, Policy: descriptor.PolicyClip}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rec(t *testing.T, owner string, bins ...uint32) database.IndexRecord {
	t.Helper()
	d, err := descriptor.New(testLayout, bins)
	if err != nil {
		t.Fatalf("descriptor.New: %v", err)
	}
	return database.IndexRecord{OwnerID: owner, FaceID: owner + "-face", Descriptor: d}
}

func seed(t *testing.T, s database.Store) []string {
	t.Helper()
	ctx := context.Background()
	records := []database.IndexRecord{
		rec(t, "a.jpg", 10, 0, 0, 0, 10, 0, 0, 0),
		rec(t, "b.jpg", 0, 10, 0, 0, 0, 10, 0, 0),
		rec(t, "c.jpg", 0, 0, 10, 0, 0, 0, 10, 0),
		rec(t, "c.jpg", 0, 0, 0, 10, 0, 0, 0, 10),
	}
	ids := make([]string, len(records))
	for i, r := range records {
		id, err := s.Append(ctx, r)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		ids[i] = id
	}
	return ids
}

func TestHNSWStore_Candidates(t *testing.T) {
	ctx := context.Background()
	hs, err := database.NewHNSWStore(ctx, mock.NewStore(testLayout), "", discardLogger())
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	ids := seed(t, hs)

	probe := rec(t, "probe", 0, 9, 1, 0, 0, 10, 0, 0).Descriptor
	got, err := hs.Candidates(ctx, probe, 1)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != ids[1] {
		t.Fatalf("Candidates() = %v, want record %s", got, ids[1])
	}
	if hs.IndexCount() != 4 {
		t.Errorf("IndexCount() = %d, want 4", hs.IndexCount())
	}
}

func TestHNSWStore_RemoveByOwner(t *testing.T) {
	ctx := context.Background()
	hs, err := database.NewHNSWStore(ctx, mock.NewStore(testLayout), "", discardLogger())
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	seed(t, hs)

	n, err := hs.RemoveByOwner(ctx, "c.jpg")
	if err != nil {
		t.Fatalf("RemoveByOwner: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d records, want 2", n)
	}
	if hs.IndexCount() != 2 {
		t.Errorf("IndexCount() = %d, want 2", hs.IndexCount())
	}

	probe := rec(t, "probe", 0, 0, 10, 0, 0, 0, 10, 0).Descriptor
	got, err := hs.Candidates(ctx, probe, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	for _, r := range got {
		if r.OwnerID == "c.jpg" {
			t.Errorf("removed record %s returned as candidate", r.ID)
		}
	}
}

func TestHNSWStore_BuildsFromExistingRecords(t *testing.T) {
	ctx := context.Background()
	inner := mock.NewStore(testLayout)
	ids := seed(t, inner)

	hs, err := database.NewHNSWStore(ctx, inner, "", discardLogger())
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	if hs.IndexCount() != len(ids) {
		t.Errorf("IndexCount() = %d, want %d", hs.IndexCount(), len(ids))
	}
}

func TestHNSWStore_SaveAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faces.hnsw")
	inner := mock.NewStore(testLayout)

	hs, err := database.NewHNSWStore(ctx, inner, path, discardLogger())
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	ids := seed(t, hs)
	if err := hs.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	meta, err := database.LoadHNSWMetadata(path)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata: %v", err)
	}
	if meta.Records != len(ids) || meta.Layout != testLayout.String() {
		t.Errorf("metadata = %+v", meta)
	}

	reloaded, err := database.NewHNSWStore(ctx, inner, path, discardLogger())
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	probe := rec(t, "probe", 10, 0, 0, 0, 10, 0, 0, 0).Descriptor
	got, err := reloaded.Candidates(ctx, probe, 1)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != ids[0] {
		t.Errorf("Candidates() after reload = %v, want %s", got, ids[0])
	}
}

func TestHNSWStore_ReloadWithReusedIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faces.hnsw")

	// The saved graph maps IDs 1..4 to the seed descriptors.
	first, err := database.NewHNSWStore(ctx, mock.NewStore(testLayout), path, discardLogger())
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	seed(t, first)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w := rec(t, "w.jpg", 0, 0, 0, 10, 0, 0, 0, 10)
	x := rec(t, "x.jpg", 10, 0, 0, 0, 10, 0, 0, 0)

	tests := []struct {
		name string
		open func(t *testing.T) (*database.HNSWStore, string)
	}{
		{"records present at load", func(t *testing.T) (*database.HNSWStore, string) {
			inner := mock.NewStore(testLayout)
			wid, _ := inner.Append(ctx, w)
			_, _ = inner.Append(ctx, x)
			hs, err := database.NewHNSWStore(ctx, inner, path, discardLogger())
			if err != nil {
				t.Fatalf("NewHNSWStore: %v", err)
			}
			return hs, wid
		}},
		{"records appended after load", func(t *testing.T) (*database.HNSWStore, string) {
			hs, err := database.NewHNSWStore(ctx, mock.NewStore(testLayout), path, discardLogger())
			if err != nil {
				t.Fatalf("NewHNSWStore: %v", err)
			}
			wid, err := hs.Append(ctx, w)
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			if _, err := hs.Append(ctx, x); err != nil {
				t.Fatalf("Append: %v", err)
			}
			return hs, wid
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs, wid := tt.open(t)
			if hs.IndexCount() != 2 {
				t.Errorf("IndexCount() = %d, want 2", hs.IndexCount())
			}
			got, err := hs.Candidates(ctx, w.Descriptor, 1)
			if err != nil {
				t.Fatalf("Candidates: %v", err)
			}
			if len(got) != 1 || got[0].ID != wid || got[0].OwnerID != "w.jpg" {
				t.Errorf("Candidates() = %+v, want w.jpg record %s", got, wid)
			}
		})
	}
}

func TestHNSWIndex_SearchSkipsDeleted(t *testing.T) {
	idx := database.NewHNSWIndex()
	idx.Add("1", []float32{1, 0, 0, 0})
	idx.Add("2", []float32{0.9, 0.1, 0, 0})
	idx.Add("3", []float32{0, 0, 0, 1})
	idx.Delete("1")

	got := idx.Search([]float32{1, 0, 0, 0}, 2)
	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Errorf("Search() = %v, want [2 3]", got)
	}
	if idx.Has("1") || idx.Count() != 2 {
		t.Errorf("Has(1) = %v, Count() = %d", idx.Has("1"), idx.Count())
	}
}

func TestHNSWStore_CloseClosesInner(t *testing.T) {
	ctx := context.Background()
	inner := mock.NewStore(testLayout)
	hs, err := database.NewHNSWStore(ctx, inner, "", discardLogger())
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	if err := hs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if inner.CloseCount() != 1 {
		t.Errorf("inner closed %d times, want 1", inner.CloseCount())
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := database.Open(context.Background(), &config.StoreConfig{Backend: "nope"}, testLayout, discardLogger())
	if err == nil {
		t.Fatal("expected error for unregistered backend")
	}
}

func TestOpen_WrapsHNSW(t *testing.T) {
	database.RegisterBackend("test-memory", mock.Open)

	s, err := database.Open(context.Background(), &config.StoreConfig{Backend: "test-memory", HNSWEnabled: true}, testLayout, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(database.CandidateSearcher); !ok {
		t.Errorf("store %T does not search candidates", s)
	}
}
