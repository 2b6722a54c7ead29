package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/config"
	"github.com/hyperjump/simdex/internal/embedding"
	"github.com/hyperjump/simdex/internal/extract"
	"github.com/hyperjump/simdex/internal/library"
	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/internal/storage"
	"github.com/hyperjump/simdex/internal/vecindex"
)

// multipartMemory is the part of a multipart body kept in memory; the rest spills to disk.
const multipartMemory = 32 << 20

type addTextRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	if isMultipart(r) {
		uploads, ok := s.readUploads(w, r, "file", 1)
		if !ok {
			return
		}
		s.logger.Debug("add document upload", zap.String("filename", uploads[0].Filename))
		doc, err := s.lib.AddUpload(r.Context(), uploads[0])
		if err != nil {
			s.respondFailure(w, "add document failed", err)
			return
		}
		s.respondJSON(w, http.StatusCreated, doc)
		return
	}

	var req addTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := s.lib.AddDocument(r.Context(), &models.DocumentInput{Text: req.Text, Filename: req.Filename})
	if err != nil {
		s.respondFailure(w, "add document failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		s.respondError(w, http.StatusBadRequest, "multipart form with files is required")
		return
	}
	uploads, ok := s.readUploads(w, r, "files", s.cfg.Upload.MaxFiles)
	if !ok {
		return
	}
	results, err := s.lib.AddDocuments(r.Context(), uploads)
	if err != nil && results == nil {
		s.respondFailure(w, "add documents failed", err)
		return
	}
	if err != nil {
		s.logger.Error("batch stopped early", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if isMultipart(r) {
		uploads, ok := s.readUploads(w, r, "file", 1)
		if !ok {
			return
		}
		text, err := s.lib.Extract(uploads[0])
		if err != nil {
			s.respondFailure(w, "search failed", err)
			return
		}
		req.Query = text
		if k := r.FormValue("k"); k != "" {
			n, err := strconv.Atoi(k)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "k must be an integer")
				return
			}
			req.K = n
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.lib.Search(r.Context(), req)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.logger.Debug("search", zap.Int("k", resp.K), zap.Int("hits", len(resp.Hits)), zap.Int64("query_time_ms", resp.QueryTime))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err1 := intParam(q.Get("offset"))
	limit, err2 := intParam(q.Get("limit"))
	if err := errors.Join(err1, err2); err != nil {
		s.respondError(w, http.StatusBadRequest, "offset and limit must be integers")
		return
	}

	var list *models.DocumentList
	var err error
	if text := q.Get("q"); text != "" {
		fuzzy, _ := strconv.ParseBool(q.Get("fuzzy"))
		list, err = s.lib.FindDocuments(r.Context(), text, limit, fuzzy)
	} else {
		list, err = s.lib.List(r.Context(), offset, limit)
	}
	if err != nil {
		s.respondFailure(w, "list documents failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.ParseUint(chi.URLParam(r, "position"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "position must be a non-negative integer")
		return
	}
	doc, err := s.lib.Get(r.Context(), pos)
	if err != nil {
		s.respondFailure(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.lib.Status(r.Context())
	if err != nil {
		s.respondFailure(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		s.respondError(w, http.StatusNotFound, "directory not found")
		return
	case err != nil:
		s.respondFailure(w, "watch add directory failed", err)
		return
	case !info.IsDir():
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	if err := s.watch.AddDirectory(abs); err != nil {
		s.respondFailure(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var req watchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			path = req.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondFailure(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories saves the current watch roots to the config file, if one is set.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// readUploads parses a multipart body and reads up to maxFiles files from field.
// It writes the error response itself and reports ok=false on failure.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, field string, maxFiles int) ([]library.Upload, bool) {
	limit := int64(maxFiles)*s.cfg.Upload.MaxFileBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return nil, false
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("multipart field %q is required", field))
		return nil, false
	}
	if len(headers) > maxFiles {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files allowed", maxFiles))
		return nil, false
	}
	uploads := make([]library.Upload, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > s.cfg.Upload.MaxFileBytes {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s exceeds %d bytes", fh.Filename, s.cfg.Upload.MaxFileBytes))
			return nil, false
		}
		content, err := readPart(fh)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read upload")
			return nil, false
		}
		uploads = append(uploads, library.Upload{Filename: filepath.Base(fh.Filename), Content: content})
	}
	return uploads, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps library and index errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vecindex.ErrDimensionMismatch),
		errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, library.ErrEmptyText),
		errors.Is(err, library.ErrTooManyFiles),
		errors.Is(err, library.ErrUnsupportedUpload),
		errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, embedding.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vecindex.ErrEmptyIndex):
		return http.StatusConflict
	case errors.Is(err, library.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, vecindex.ErrNotInitialized), errors.Is(err, vecindex.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondFailure logs server-side failures and answers with the mapped status.
func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
