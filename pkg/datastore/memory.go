package datastore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gotalk/pkg/model"
)

// MemoryStore is an in-memory FileIndex. It mirrors SQLStore behavior,
// including second-precision UTC timestamps.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	files map[string]model.FileRecord
}

// NewMemory creates a MemoryStore using time.Now().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:   now,
		files: make(map[string]model.FileRecord),
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) RecordUpload(_ context.Context, rec model.FileRecord) error {
	if rec.Name == "" {
		return errors.New("datastore: record upload: empty name")
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = m.now()
	}
	rec.UploadedAt = rec.UploadedAt.UTC().Truncate(time.Second)
	rec.Downloads = 0

	m.mu.Lock()
	m.files[rec.Name] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetFile(_ context.Context, name string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[name]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ListFiles(_ context.Context) ([]model.FileRecord, error) {
	m.mu.RLock()
	files := make([]model.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		files = append(files, rec)
	}
	m.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (m *MemoryStore) RecordDownload(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[name]
	if !ok {
		return ErrNotFound
	}
	rec.Downloads++
	m.files[name] = rec
	return nil
}
