package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gotalk/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore is the SQLite-backed FileIndex.
type SQLStore struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*SQLStore, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: ping db: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS files (
		name        TEXT    PRIMARY KEY CHECK(length(name) > 0),
		size        INTEGER NOT NULL DEFAULT 0 CHECK(size >= 0),
		checksum    TEXT    NOT NULL DEFAULT '',
		uploader    TEXT    NOT NULL DEFAULT '',
		uploaded_at TEXT    NOT NULL DEFAULT (datetime('now')),
		downloads   INTEGER NOT NULL DEFAULT 0
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// RecordUpload inserts or replaces a file entry.
func (s *SQLStore) RecordUpload(ctx context.Context, rec model.FileRecord) error {
	if rec.Name == "" {
		return errors.New("datastore: record upload: empty name")
	}
	uploadedAt := rec.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (name, size, checksum, uploader, uploaded_at, downloads)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(name) DO UPDATE SET
			size = excluded.size,
			checksum = excluded.checksum,
			uploader = excluded.uploader,
			uploaded_at = excluded.uploaded_at,
			downloads = 0`,
		rec.Name, rec.Size, rec.Checksum, rec.Uploader, formatDBTime(uploadedAt))
	if err != nil {
		return fmt.Errorf("datastore: record upload: %w", err)
	}
	return nil
}

// GetFile retrieves a file entry by name.
func (s *SQLStore) GetFile(ctx context.Context, name string) (*model.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name, size, checksum, uploader, uploaded_at, downloads FROM files WHERE name = ?", name)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get file: %w", err)
	}
	return rec, nil
}

// ListFiles returns all file entries ordered by name.
func (s *SQLStore) ListFiles(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, size, checksum, uploader, uploaded_at, downloads FROM files ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("datastore: list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := []model.FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: list files: %w", err)
		}
		files = append(files, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: list files: %w", err)
	}
	return files, nil
}

// RecordDownload increments the download counter for name.
func (s *SQLStore) RecordDownload(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE files SET downloads = downloads + 1 WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("datastore: record download: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: record download: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	var uploadedAt string
	if err := row.Scan(&rec.Name, &rec.Size, &rec.Checksum, &rec.Uploader, &uploadedAt, &rec.Downloads); err != nil {
		return nil, err
	}
	parsed, err := parseDBTime(uploadedAt)
	if err != nil {
		return nil, err
	}
	rec.UploadedAt = parsed
	return rec, nil
}
