// Package relay stores and serves whole files for the file port.
//
// Files live flat in one storage directory opened as an os.Root, so no
// name can resolve outside it. Names are also validated up front and
// anything that looks like a path is refused before storage is touched.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/NicolasHaas/gotalk/pkg/datastore"
	"github.com/NicolasHaas/gotalk/pkg/model"
)

const maxNameLength = 255

var (
	ErrPathTraversal = errors.New("relay: file name escapes storage directory")
	ErrInvalidName   = errors.New("relay: invalid file name")
	ErrFileNotFound  = errors.New("relay: file not found")
	ErrFileTooLarge  = errors.New("relay: file exceeds size limit")
)

// Relay receives uploads into and serves downloads from a storage directory.
type Relay struct {
	dir     string
	root    *os.Root
	index   datastore.FileIndex
	maxSize int64 // 0 = unlimited
}

// New opens (creating if needed) the storage directory. maxSize limits the
// size of a single upload; zero means unlimited.
func New(dir string, index datastore.FileIndex, maxSize int64) (*Relay, error) {
	if index == nil {
		index = datastore.NewMemory()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("relay: create storage dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("relay: open storage dir: %w", err)
	}
	return &Relay{dir: dir, root: root, index: index, maxSize: maxSize}, nil
}

// Dir returns the storage directory.
func (r *Relay) Dir() string { return r.dir }

// Close releases the storage directory handle.
func (r *Relay) Close() error {
	return r.root.Close()
}

// ValidateName accepts a plain file name: no separators, no "." or "..",
// no volume prefix and no control characters.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	if name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) ||
		filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrInvalidName
		}
	}
	if strings.HasPrefix(name, tempPrefix) {
		return ErrInvalidName
	}
	return nil
}

const tempPrefix = ".upload-"

// ReceiveUpload copies src into storage under name. The file is written to a
// temporary name first and renamed into place only after the copy completes,
// so a broken upload never replaces an existing file.
func (r *Relay) ReceiveUpload(ctx context.Context, name string, src io.Reader, uploader string) (model.FileRecord, error) {
	if err := ValidateName(name); err != nil {
		return model.FileRecord{}, err
	}

	tmp := tempPrefix + uuid.NewString()
	f, err := r.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return model.FileRecord{}, fmt.Errorf("relay: create %s: %w", name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = r.root.Remove(tmp)
		}
	}()

	h, err := blake2b.New256(nil)
	if err != nil {
		_ = f.Close()
		return model.FileRecord{}, fmt.Errorf("relay: checksum: %w", err)
	}

	if r.maxSize > 0 {
		src = io.LimitReader(src, r.maxSize+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return model.FileRecord{}, fmt.Errorf("relay: receive %s: %w", name, err)
	}
	if r.maxSize > 0 && n > r.maxSize {
		return model.FileRecord{}, fmt.Errorf("%w: %s (limit %d bytes)", ErrFileTooLarge, name, r.maxSize)
	}

	if err := r.root.Rename(tmp, name); err != nil {
		return model.FileRecord{}, fmt.Errorf("relay: store %s: %w", name, err)
	}
	committed = true

	rec := model.FileRecord{
		Name:       name,
		Size:       n,
		Checksum:   hex.EncodeToString(h.Sum(nil)),
		Uploader:   uploader,
		UploadedAt: time.Now().UTC(),
	}
	if err := r.index.RecordUpload(ctx, rec); err != nil {
		// The bytes are stored; a stale index only affects listings.
		slog.Error("relay: index upload failed", "file", name, "err", err)
	}
	return rec, nil
}

// ServeDownload streams the stored file to dst and returns the byte count.
// A missing file yields ErrFileNotFound with nothing written.
func (r *Relay) ServeDownload(ctx context.Context, name string, dst io.Writer) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	f, err := r.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("relay: open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("relay: stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	n, err := io.Copy(dst, f)
	if err != nil {
		return n, fmt.Errorf("relay: send %s: %w", name, err)
	}

	if err := r.index.RecordDownload(ctx, name); err != nil && !errors.Is(err, datastore.ErrNotFound) {
		slog.Error("relay: index download failed", "file", name, "err", err)
	}
	return n, nil
}

// List returns the names of indexed files.
func (r *Relay) List(ctx context.Context) ([]string, error) {
	files, err := r.index.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: list: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}

// Stat returns the index entry for name, or nil if it is not indexed.
func (r *Relay) Stat(ctx context.Context, name string) (*model.FileRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return r.index.GetFile(ctx, name)
}
