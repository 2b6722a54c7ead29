// Package storage defines the metadata record store: one row per index Position.
package storage

import (
	"context"
	"errors"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/hyperjump/simdex/internal/models"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("document not found")

// Storage persists document metadata keyed by index Position. Records are insert-only,
// matching the index.
type Storage interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetByPosition(ctx context.Context, position uint64) (*models.Document, error)
	GetByPositions(ctx context.Context, positions []uint64) (map[uint64]*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	GetBySourcePath(ctx context.Context, path string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)
	// StoredPositions returns the set of positions that have a record.
	StoredPositions(ctx context.Context) (*roaring64.Bitmap, error)
	Close() error
}
