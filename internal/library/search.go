package library

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/embedding"
	"github.com/hyperjump/simdex/internal/keyword"
	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/internal/storage"
	"github.com/hyperjump/simdex/pkg/utils"
)

// Search embeds req.Query and returns the nearest documents, closest first.
// A position without a metadata record is returned with a nil Document.
func (l *Library) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Normalize(l.cfg.Search.DefaultK, l.cfg.Search.MaxK); err != nil {
		return nil, err
	}
	vec, err := l.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	results, err := l.index.Query(vec, req.K)
	if err != nil {
		return nil, err
	}

	positions := make([]uint64, len(results))
	for i, r := range results {
		positions[i] = uint64(r.Position)
	}
	docs, err := l.storage.GetByPositions(ctx, positions)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	hits := make([]*models.SearchHit, len(results))
	for i, r := range results {
		hits[i] = &models.SearchHit{
			Position:     uint64(r.Position),
			Distance:     r.Distance,
			MatchPercent: utils.MatchPercent(r.Distance),
			Document:     docs[uint64(r.Position)],
		}
		if hits[i].Document == nil {
			l.logger.Warn("search hit has no metadata record", zap.Uint64("position", hits[i].Position))
		}
	}
	return &models.SearchResponse{
		Query:     req.Query,
		K:         req.K,
		Hits:      hits,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// FindDocuments looks documents up by words in their filename or snippet. When nothing
// matches, the result carries a spelling suggestion if one exists.
func (l *Library) FindDocuments(ctx context.Context, q string, limit int, fuzzy bool) (*models.DocumentList, error) {
	limit = l.clampLimit(limit)
	hits, err := l.keywords.Search(ctx, q, limit, &keyword.SearchOptions{FilenameBoost: 2, Fuzzy: fuzzy})
	if err != nil {
		return nil, err
	}
	positions := make([]uint64, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	byPos, err := l.storage.GetByPositions(ctx, positions)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	list := &models.DocumentList{Documents: make([]*models.Document, 0, len(hits)), Limit: limit, Query: q}
	for _, h := range hits {
		if doc := byPos[h.Position]; doc != nil {
			list.Documents = append(list.Documents, doc)
		}
	}
	list.Total = int64(len(list.Documents))
	if len(list.Documents) == 0 {
		if corrected, ok, err := l.suggester.Suggest(q); err != nil {
			l.logger.Debug("suggestion failed", zap.Error(err))
		} else if ok {
			list.Suggestion = corrected
		}
	}
	return list, nil
}

// List returns metadata records in position order.
func (l *Library) List(ctx context.Context, offset, limit int) (*models.DocumentList, error) {
	if offset < 0 {
		offset = 0
	}
	limit = l.clampLimit(limit)
	docs, err := l.storage.ListDocuments(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := l.storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return &models.DocumentList{Documents: docs, Total: total, Offset: offset, Limit: limit}, nil
}

// Get returns the record at pos, or storage.ErrNotFound.
func (l *Library) Get(ctx context.Context, pos uint64) (*models.Document, error) {
	return l.storage.GetByPosition(ctx, pos)
}

// Status reports index, metadata and embedding state.
func (l *Library) Status(ctx context.Context) (*models.Status, error) {
	stats := l.index.Stats()
	docs, err := l.storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := l.keywords.Count()
	if err != nil {
		return nil, err
	}
	st := &models.Status{
		Dimensions:        stats.Dimensions,
		Size:              stats.Size,
		Live:              stats.Live,
		Corrupt:           stats.Corrupt,
		Documents:         docs,
		KeywordEntries:    entries,
		EmbeddingProvider: embedding.ProviderName(l.embedder),
		VectorLogPath:     stats.LogPath,
		DatabasePath:      l.cfg.Storage.DatabasePath,
		StartedAt:         l.startedAt,
	}
	if c, ok := l.embedder.(*embedding.CachedEmbedder); ok {
		st.CacheEntries = c.Cache().Len()
		st.CacheHits, st.CacheMisses = c.Cache().Stats()
	}
	if n, err := storage.DiskUsageBytes(l.cfg.Storage.DatabasePath, l.cfg.Storage.VectorLogPath, l.cfg.Storage.BleveIndexPath); err == nil {
		st.DiskUsageBytes = n
	}
	return st, nil
}

func (l *Library) clampLimit(limit int) int {
	if limit <= 0 {
		return l.cfg.Search.DefaultK * 5
	}
	if limit > l.cfg.Search.MaxK {
		return l.cfg.Search.MaxK
	}
	return limit
}
