package stats

import (
	"context"
	"testing"
	"time"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

type fakeTx struct {
	stats map[string]*types.FamilyStorageStats
}

func newFakeTx() *fakeTx { return &fakeTx{stats: make(map[string]*types.FamilyStorageStats)} }

func (f *fakeTx) Save(ctx context.Context, meta *types.FileMetadata) error   { return nil }
func (f *fakeTx) Update(ctx context.Context, meta *types.FileMetadata) error { return nil }
func (f *fakeTx) SoftDelete(ctx context.Context, fileID string, ts time.Time) error {
	return nil
}

func (f *fakeTx) UpsertStats(ctx context.Context, stats *types.FamilyStorageStats) error {
	cp := *stats
	f.stats[stats.FamilyID] = &cp
	return nil
}

func (f *fakeTx) GetStats(ctx context.Context, familyID string) (*types.FamilyStorageStats, error) {
	s, ok := f.stats[familyID]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "no stats row")
	}
	cp := *s
	return &cp, nil
}

func TestOnFileUploaded_FirstFile(t *testing.T) {
	tx := newFakeTx()
	e := New(nil)

	meta := &types.FileMetadata{
		FamilyID:     "fam1",
		FileSize:     100,
		OriginalName: "photo.jpg",
		FileType:     "image/jpeg",
		UploadTime:   time.Now(),
	}

	if err := e.OnFileUploaded(context.Background(), tx, meta); err != nil {
		t.Fatalf("OnFileUploaded() error = %v", err)
	}

	got := tx.stats["fam1"]
	if got.TotalFiles != 1 || got.TotalSize != 100 {
		t.Errorf("stats = %+v, want TotalFiles=1 TotalSize=100", got)
	}
	if got.CategoryCounts[types.CategoryImage] != 1 {
		t.Errorf("CategoryCounts[image] = %d, want 1", got.CategoryCounts[types.CategoryImage])
	}
	if got.LargestFileSize != 100 || got.LargestFileName != "photo.jpg" {
		t.Errorf("largest file not tracked: %+v", got)
	}
}

func TestOnFileDeleted_NeverGoesNegative(t *testing.T) {
	tx := newFakeTx()
	e := New(nil)
	ctx := context.Background()

	meta := &types.FileMetadata{FamilyID: "fam1", FileSize: 50, FileType: "text/plain", OriginalName: "a.txt"}

	if err := e.OnFileDeleted(ctx, tx, meta); err != nil {
		t.Fatalf("OnFileDeleted() error = %v", err)
	}

	got := tx.stats["fam1"]
	if got.TotalFiles != 0 || got.TotalSize != 0 {
		t.Errorf("stats = %+v, want bounded at zero", got)
	}
}

func TestOnFileUploadedThenDeleted_NetsToZero(t *testing.T) {
	tx := newFakeTx()
	e := New(nil)
	ctx := context.Background()

	meta := &types.FileMetadata{FamilyID: "fam1", FileSize: 200, FileType: "application/pdf", OriginalName: "doc.pdf"}

	if err := e.OnFileUploaded(ctx, tx, meta); err != nil {
		t.Fatalf("OnFileUploaded() error = %v", err)
	}
	if err := e.OnFileDeleted(ctx, tx, meta); err != nil {
		t.Fatalf("OnFileDeleted() error = %v", err)
	}

	got := tx.stats["fam1"]
	if got.TotalFiles != 0 || got.TotalSize != 0 {
		t.Errorf("stats = %+v, want TotalFiles=0 TotalSize=0", got)
	}
	if got.CategoryCounts[types.CategoryDocument] != 0 {
		t.Errorf("CategoryCounts[document] = %d, want 0", got.CategoryCounts[types.CategoryDocument])
	}
}

func TestOnFileModified_AppliesSizeDelta(t *testing.T) {
	tx := newFakeTx()
	e := New(nil)
	ctx := context.Background()

	meta := &types.FileMetadata{FamilyID: "fam1", FileSize: 300, FileType: "text/plain", OriginalName: "a.txt"}
	if err := e.OnFileUploaded(ctx, tx, meta); err != nil {
		t.Fatalf("OnFileUploaded() error = %v", err)
	}

	meta.FileSize = 500
	if err := e.OnFileModified(ctx, tx, meta, 200); err != nil {
		t.Fatalf("OnFileModified() error = %v", err)
	}

	got := tx.stats["fam1"]
	if got.TotalSize != 500 {
		t.Errorf("TotalSize = %d, want 500", got.TotalSize)
	}
}
