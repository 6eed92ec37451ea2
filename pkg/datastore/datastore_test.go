package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gotalk/pkg/datastore"
	"github.com/NicolasHaas/gotalk/pkg/model"
)

func NewTestSqlConn(t *testing.T) (*datastore.SQLStore, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

// withStores runs fn against every FileIndex implementation.
func withStores(t *testing.T, fn func(t *testing.T, st datastore.FileIndex)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		st, err := NewTestSqlConn(t)
		if err != nil {
			t.Fatalf("failed to open test connection: %v", err)
		}
		fn(t, st)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, datastore.NewMemory())
	})
}

func TestRecordAndGetFile(t *testing.T) {
	uploadedAt := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	withStores(t, func(t *testing.T, st datastore.FileIndex) {
		ctx := context.Background()
		want := model.FileRecord{
			Name:       "notes.txt",
			Size:       42,
			Checksum:   "abc123",
			Uploader:   "127.0.0.1:5555",
			UploadedAt: uploadedAt,
		}
		if err := st.RecordUpload(ctx, want); err != nil {
			t.Fatalf("RecordUpload: unexpected error: %v", err)
		}

		got, err := st.GetFile(ctx, "notes.txt")
		if err != nil {
			t.Fatalf("GetFile: unexpected error: %v", err)
		}
		if got == nil {
			t.Fatalf("GetFile: expected record, got nil")
		}
		if diff := cmp.Diff(want, *got); diff != "" {
			t.Errorf("GetFile mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestGetFileMissing(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.FileIndex) {
		got, err := st.GetFile(context.Background(), "nope.bin")
		if err != nil {
			t.Fatalf("GetFile: unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("GetFile: expected nil, got %+v", got)
		}
	})
}

func TestRecordUploadReplaces(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.FileIndex) {
		ctx := context.Background()
		if err := st.RecordUpload(ctx, model.FileRecord{Name: "a.bin", Size: 1, Checksum: "one"}); err != nil {
			t.Fatalf("RecordUpload: unexpected error: %v", err)
		}
		if err := st.RecordDownload(ctx, "a.bin"); err != nil {
			t.Fatalf("RecordDownload: unexpected error: %v", err)
		}
		if err := st.RecordUpload(ctx, model.FileRecord{Name: "a.bin", Size: 2, Checksum: "two"}); err != nil {
			t.Fatalf("RecordUpload (replace): unexpected error: %v", err)
		}

		got, err := st.GetFile(ctx, "a.bin")
		if err != nil || got == nil {
			t.Fatalf("GetFile: got %v, err %v", got, err)
		}
		if got.Size != 2 || got.Checksum != "two" || got.Downloads != 0 {
			t.Errorf("GetFile after replace = %+v, want size 2 checksum two downloads 0", got)
		}
	})
}

func TestRecordUploadEmptyName(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.FileIndex) {
		if err := st.RecordUpload(context.Background(), model.FileRecord{}); err == nil {
			t.Fatalf("RecordUpload: expected error for empty name")
		}
	})
}

func TestListFilesSorted(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.FileIndex) {
		ctx := context.Background()
		for _, name := range []string{"zeta.txt", "alpha.txt", "mid.txt"} {
			if err := st.RecordUpload(ctx, model.FileRecord{Name: name}); err != nil {
				t.Fatalf("RecordUpload(%s): unexpected error: %v", name, err)
			}
		}

		files, err := st.ListFiles(ctx)
		if err != nil {
			t.Fatalf("ListFiles: unexpected error: %v", err)
		}
		var names []string
		for _, f := range files {
			names = append(names, f.Name)
		}
		if diff := cmp.Diff([]string{"alpha.txt", "mid.txt", "zeta.txt"}, names); diff != "" {
			t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestRecordDownload(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.FileIndex) {
		ctx := context.Background()
		if err := st.RecordDownload(ctx, "ghost.txt"); !errors.Is(err, datastore.ErrNotFound) {
			t.Fatalf("RecordDownload(missing) error = %v, want ErrNotFound", err)
		}

		if err := st.RecordUpload(ctx, model.FileRecord{Name: "pic.png"}); err != nil {
			t.Fatalf("RecordUpload: unexpected error: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := st.RecordDownload(ctx, "pic.png"); err != nil {
					t.Errorf("RecordDownload: unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := st.GetFile(ctx, "pic.png")
		if err != nil || got == nil {
			t.Fatalf("GetFile: got %v, err %v", got, err)
		}
		if got.Downloads != 10 {
			t.Errorf("Downloads = %d, want 10", got.Downloads)
		}
	})
}

func TestReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	st, err := datastore.New(dbPath)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if err := st.RecordUpload(context.Background(), model.FileRecord{Name: "kept.txt", Size: 7}); err != nil {
		t.Fatalf("RecordUpload: unexpected error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}

	st, err = datastore.New(dbPath)
	if err != nil {
		t.Fatalf("New (reopen): unexpected error: %v", err)
	}
	defer func() { _ = st.Close() }()

	got, err := st.GetFile(context.Background(), "kept.txt")
	if err != nil || got == nil {
		t.Fatalf("GetFile after reopen: got %v, err %v", got, err)
	}
	if got.Size != 7 {
		t.Errorf("Size after reopen = %d, want 7", got.Size)
	}
}
