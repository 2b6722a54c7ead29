package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/simdex/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		snippet TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		source_mtime INTEGER NOT NULL DEFAULT 0,
		source_size INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		uploaded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source_path ON documents(source_path);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `position, id, filename, snippet, source_path, source_mtime, source_size, mime_type, size_bytes, uploaded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var pos int64
	err := row.Scan(&pos, &doc.ID, &doc.Filename, &doc.Snippet, &doc.SourcePath,
		&doc.SourceMtime, &doc.SourceSize, &doc.MimeType, &doc.SizeBytes, &doc.UploadedAt)
	if err != nil {
		return nil, err
	}
	doc.Position = uint64(pos)
	return &doc, nil
}

// CreateDocument inserts the record for doc.Position. UploadedAt is set when zero.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(doc.Position), doc.ID, doc.Filename, doc.Snippet, doc.SourcePath,
		doc.SourceMtime, doc.SourceSize, doc.MimeType, doc.SizeBytes, doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document at position %d: %w", doc.Position, err)
	}
	return nil
}

// GetByPosition returns the record bound to position.
func (s *SQLiteStorage) GetByPosition(ctx context.Context, position uint64) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE position = ?`, int64(position)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %d", ErrNotFound, position)
	}
	return doc, err
}

// GetByPositions returns the records for positions; positions without a record are absent
// from the map.
func (s *SQLiteStorage) GetByPositions(ctx context.Context, positions []uint64) (map[uint64]*models.Document, error) {
	out := make(map[uint64]*models.Document, len(positions))
	if len(positions) == 0 {
		return out, nil
	}
	args := make([]any, len(positions))
	for i, p := range positions {
		args[i] = int64(p)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(positions)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE position IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[doc.Position] = doc
	}
	return out, rows.Err()
}

// GetByID returns the record with the given document ID.
func (s *SQLiteStorage) GetByID(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

// GetBySourcePath returns the newest record added from path.
func (s *SQLiteStorage) GetBySourcePath(ctx context.Context, path string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_path = ? ORDER BY position DESC LIMIT 1`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return doc, err
}

// ListDocuments returns records in position order.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY position LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the total number of records.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// StoredPositions returns the set of positions that have a record.
func (s *SQLiteStorage) StoredPositions(ctx context.Context) (*roaring64.Bitmap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := roaring64.New()
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		positions.Add(uint64(p))
	}
	return positions, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
