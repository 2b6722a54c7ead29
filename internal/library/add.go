package library

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/simdex/internal/fileid"
	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/internal/storage"
	"github.com/hyperjump/simdex/internal/vecindex"
	"github.com/hyperjump/simdex/pkg/utils"
)

// batchWorkers bounds concurrent extraction and embedding in AddDocuments.
const batchWorkers = 4

// Upload is a file received over the API or named on the command line.
type Upload struct {
	Filename string
	Content  []byte
}

// prepared is a document whose text is extracted and embedded, ready to insert.
type prepared struct {
	doc    *models.Document
	vector []float32
}

// AddDocument embeds in.Text and inserts it, returning the stored record.
func (l *Library) AddDocument(ctx context.Context, in *models.DocumentInput) (*models.Document, error) {
	p, err := l.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	return l.commit(ctx, p)
}

// AddUpload extracts text from u and adds it.
func (l *Library) AddUpload(ctx context.Context, u Upload) (*models.Document, error) {
	in, err := l.uploadInput(u)
	if err != nil {
		return nil, err
	}
	return l.AddDocument(ctx, in)
}

// AddDocuments adds 1..upload.max_files uploads. Extraction and embedding run concurrently;
// inserts happen in input order, so positions follow the order of uploads. A failure of one
// upload is reported in its result and does not stop the others.
func (l *Library) AddDocuments(ctx context.Context, uploads []Upload) ([]*models.AddResult, error) {
	if n := len(uploads); n == 0 || n > l.cfg.Upload.MaxFiles {
		return nil, fmt.Errorf("%w: got %d files, want 1 to %d", ErrTooManyFiles, n, l.cfg.Upload.MaxFiles)
	}

	results := make([]*models.AddResult, len(uploads))
	ready := make([]*prepared, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i, u := range uploads {
		results[i] = &models.AddResult{Filename: u.Filename}
		g.Go(func() error {
			in, err := l.uploadInput(u)
			if err == nil {
				ready[i], err = l.prepare(gctx, in)
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	for i, p := range ready {
		if p == nil {
			continue
		}
		doc, err := l.commit(ctx, p)
		if err != nil {
			results[i].Error = err.Error()
			if errors.Is(err, vecindex.ErrDurability) || errors.Is(err, vecindex.ErrClosed) {
				// Later inserts would fail the same way.
				return results, err
			}
			continue
		}
		results[i].Document = doc
	}
	return results, nil
}

// AddFile extracts and adds the file at path. A file already recorded with the same
// mtime and size is skipped and its existing record returned.
func (l *Library) AddFile(ctx context.Context, path string) (*models.AddResult, error) {
	src, err := fileid.Stat(path)
	if err != nil {
		return nil, err
	}
	result := &models.AddResult{Filename: filepath.Base(src.Path)}
	if doc, ok := l.unchanged(ctx, src); ok {
		result.Document, result.Skipped = doc, true
		return result, nil
	}

	text, err := l.extractor.Extract(src.Path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", src.Path, err)
	}
	in := &models.DocumentInput{
		Text:        text,
		Filename:    result.Filename,
		SourcePath:  src.Path,
		SourceMtime: src.Mtime,
		SourceSize:  src.Size,
		MimeType:    mimeType(src.Path),
		SizeBytes:   src.Size,
	}
	p, err := l.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	p.doc.ID = src.DocID()

	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	// Another event for the same file may have committed while this one was embedding.
	if doc, ok := l.unchanged(ctx, src); ok {
		result.Document, result.Skipped = doc, true
		return result, nil
	}
	doc, err := l.commit(ctx, p)
	if err != nil {
		return nil, err
	}
	result.Document = doc
	l.logger.Debug("file added", zap.String("path", src.Path), zap.Uint64("position", doc.Position))
	return result, nil
}

// unchanged returns the record for this version of src, if one exists.
func (l *Library) unchanged(ctx context.Context, src fileid.Source) (*models.Document, bool) {
	doc, err := l.storage.GetBySourcePath(ctx, src.Path)
	if err == nil && src.Same(doc.SourceMtime, doc.SourceSize) {
		return doc, true
	}
	// A file restored to an older version carries an ID that is already recorded.
	if doc, err := l.storage.GetByID(ctx, src.DocID()); err == nil {
		return doc, true
	} else if !errors.Is(err, storage.ErrNotFound) {
		l.logger.Warn("metadata lookup failed", zap.String("path", src.Path), zap.Error(err))
	}
	return nil, false
}

// Extract returns the text of an uploaded file. The extension must be allowed for upload.
func (l *Library) Extract(u Upload) (string, error) {
	ext := strings.ToLower(filepath.Ext(u.Filename))
	if !l.cfg.Upload.AllowsExtension(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedUpload, ext)
	}
	return l.extractor.ExtractBytes(u.Content, ext)
}

func (l *Library) uploadInput(u Upload) (*models.DocumentInput, error) {
	if int64(len(u.Content)) > l.cfg.Upload.MaxFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, u.Filename, len(u.Content), l.cfg.Upload.MaxFileBytes)
	}
	text, err := l.Extract(u)
	if err != nil {
		return nil, err
	}
	return &models.DocumentInput{
		Text:      text,
		Filename:  filepath.Base(u.Filename),
		MimeType:  mimeType(u.Filename),
		SizeBytes: int64(len(u.Content)),
	}, nil
}

// prepare validates and embeds in. It does not touch the index.
func (l *Library) prepare(ctx context.Context, in *models.DocumentInput) (*prepared, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	filename := in.Filename
	if filename == "" {
		filename = "untitled.txt"
	}
	size := in.SizeBytes
	if size == 0 {
		size = int64(len(in.Text))
	}
	return &prepared{
		doc: &models.Document{
			ID:          uuid.NewString(),
			Filename:    filename,
			Snippet:     utils.Snippet(text, l.cfg.Search.SnippetLength),
			SourcePath:  in.SourcePath,
			SourceMtime: in.SourceMtime,
			SourceSize:  in.SourceSize,
			MimeType:    in.MimeType,
			SizeBytes:   size,
		},
		vector: vec,
	}, nil
}

// commit inserts p and records its metadata. Callers hold commitMu.
// Once the vector is durable the metadata writes ignore cancellation of ctx; a record lost
// to a crash here is restored from the index tag on the next Open.
func (l *Library) commit(ctx context.Context, p *prepared) (*models.Document, error) {
	doc := p.doc
	doc.UploadedAt = time.Now().UTC()
	tag, err := models.NewIndexTag(doc).Marshal()
	if err != nil {
		return nil, err
	}
	pos, err := l.index.Insert(p.vector, tag)
	if err != nil {
		return nil, err
	}
	doc.Position = uint64(pos)

	wctx := context.WithoutCancel(ctx)
	if err := l.storage.CreateDocument(wctx, doc); err != nil {
		return nil, fmt.Errorf("record metadata for position %d: %w", pos, err)
	}
	if err := l.keywords.Add(wctx, doc); err != nil {
		l.logger.Warn("keyword index update failed", zap.Uint64("position", doc.Position), zap.Error(err))
	}
	return doc, nil
}

func mimeType(name string) string {
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
}
