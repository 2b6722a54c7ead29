// Package library binds the vector index to everything around it: text extraction,
// embedding, the metadata store and the keyword index. Every document is one index Position.
package library

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/config"
	"github.com/hyperjump/simdex/internal/embedding"
	"github.com/hyperjump/simdex/internal/extract"
	"github.com/hyperjump/simdex/internal/keyword"
	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/internal/storage"
	"github.com/hyperjump/simdex/internal/vecindex"
	"github.com/hyperjump/simdex/pkg/utils"
)

var (
	// ErrTooManyFiles is returned for a batch outside 1..upload.max_files.
	ErrTooManyFiles = errors.New("batch size out of range")
	// ErrEmptyText is returned when a document has no text to embed.
	ErrEmptyText = errors.New("document has no text")
	// ErrUnsupportedUpload is returned for an upload whose extension is not allowed.
	ErrUnsupportedUpload = errors.New("file type not allowed")
	// ErrFileTooLarge is returned for an upload above upload.max_file_bytes.
	ErrFileTooLarge = errors.New("file too large")
)

// Library owns the index and its collaborators.
type Library struct {
	cfg       *config.Config
	index     *vecindex.Service
	storage   storage.Storage
	keywords  *keyword.Index
	suggester *keyword.Suggester
	embedder  embedding.Embedder
	extractor *extract.Extractor
	logger    *zap.Logger

	// commitMu keeps insert, metadata write and keyword write of one document together,
	// and makes the unchanged-file check in AddFile atomic with the insert.
	commitMu  sync.Mutex
	startedAt time.Time
}

// Open builds every component from cfg, replays the vector log and repairs metadata
// records that the log holds but the database lost.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lib *Library, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Library{
		cfg:       cfg,
		extractor: extract.NewExtractor(),
		logger:    utils.Named(logger, "library"),
		startedAt: time.Now().UTC(),
	}
	defer func() {
		if err != nil {
			_ = l.Close()
		}
	}()

	l.embedder, err = embedding.New(cfg.Embedding, utils.Named(logger, "embedding"))
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	l.storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	l.keywords, err = keyword.Open(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	l.suggester = keyword.NewSuggester(l.keywords, 2)

	stored, err := l.storage.StoredPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	orphans := make(map[uint64][]byte)
	l.index, err = vecindex.Open(cfg.Storage.VectorLogPath, l.embedder.Dimensions(),
		vecindex.WithLogger(utils.Named(logger, "vecindex")),
		vecindex.WithReplayHook(func(pos vecindex.Position, tag []byte) {
			if !stored.Contains(uint64(pos)) {
				orphans[uint64(pos)] = append([]byte(nil), tag...)
			}
		}))
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	if err := l.index.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := l.restoreOrphans(ctx, orphans); err != nil {
		return nil, err
	}
	if err := l.syncKeywords(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// restoreOrphans writes a metadata record for every live position that has none, rebuilt
// from the tag stored with its vector.
func (l *Library) restoreOrphans(ctx context.Context, orphans map[uint64][]byte) error {
	if len(orphans) == 0 {
		return nil
	}
	positions := make([]uint64, 0, len(orphans))
	for pos := range orphans {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

	restored := 0
	for _, pos := range positions {
		tag, err := models.ParseIndexTag(orphans[pos])
		if err != nil || tag.ID == "" {
			l.logger.Warn("cannot restore metadata from index tag",
				zap.Uint64("position", pos), zap.Error(err))
			continue
		}
		doc := tag.Document(pos)
		if err := l.storage.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("restore metadata for position %d: %w", pos, err)
		}
		if err := l.keywords.Add(ctx, doc); err != nil {
			return fmt.Errorf("restore keyword entry for position %d: %w", pos, err)
		}
		restored++
	}
	l.logger.Info("restored metadata records from vector log",
		zap.Int("restored", restored), zap.Int("orphans", len(orphans)))
	return nil
}

// syncKeywords re-adds every metadata record when the keyword index has fewer entries,
// e.g. after its directory was removed.
func (l *Library) syncKeywords(ctx context.Context) error {
	docs, err := l.storage.CountDocuments(ctx)
	if err != nil {
		return err
	}
	entries, err := l.keywords.Count()
	if err != nil {
		return err
	}
	if uint64(docs) <= entries {
		return nil
	}
	const page = 500
	for offset := 0; offset < int(docs); offset += page {
		batch, err := l.storage.ListDocuments(ctx, offset, page)
		if err != nil {
			return err
		}
		for _, doc := range batch {
			if err := l.keywords.Add(ctx, doc); err != nil {
				return fmt.Errorf("rebuild keyword index: %w", err)
			}
		}
	}
	l.logger.Info("rebuilt keyword index", zap.Int64("documents", docs), zap.Uint64("previous_entries", entries))
	return nil
}

// Config returns the configuration the library was opened with.
func (l *Library) Config() *config.Config {
	return l.cfg
}

// Close releases every component. It is safe to call on a partially opened Library.
func (l *Library) Close() error {
	var errs []error
	if l.index != nil {
		errs = append(errs, l.index.Close())
	}
	if l.keywords != nil {
		errs = append(errs, l.keywords.Close())
	}
	if l.storage != nil {
		errs = append(errs, l.storage.Close())
	}
	if l.embedder != nil {
		errs = append(errs, l.embedder.Close())
	}
	return errors.Join(errs...)
}
