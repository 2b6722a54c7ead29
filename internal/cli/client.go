package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/simdex/internal/models"
)

// ErrUnreachable wraps transport failures, so callers can fall back to opening the index locally.
var ErrUnreachable = errors.New("server unreachable")

// Client talks to a running simdex server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:8080).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Search runs a similarity search by text.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", "application/json", bytes.NewReader(body), http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchFile uploads the file at path and searches by its extracted text.
func (c *Client) SearchFile(ctx context.Context, path string, k int) (*models.SearchResponse, error) {
	fields := map[string]string{}
	if k > 0 {
		fields["k"] = strconv.Itoa(k)
	}
	body, contentType, err := multipartBody("file", []string{path}, fields)
	if err != nil {
		return nil, err
	}
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", contentType, body, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddFiles uploads files as one batch. The server stores them without a source path.
func (c *Client) AddFiles(ctx context.Context, paths []string) ([]*models.AddResult, error) {
	body, contentType, err := multipartBody("files", paths, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []*models.AddResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents/batch", contentType, body, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListDocuments pages through metadata records, or runs a keyword lookup when q is set.
func (c *Client) ListDocuments(ctx context.Context, q string, offset, limit int, fuzzy bool) (*models.DocumentList, error) {
	params := url.Values{}
	if q != "" {
		params.Set("q", q)
		params.Set("fuzzy", strconv.FormatBool(fuzzy))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	target := "/api/v1/documents"
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var list models.DocumentList
	if err := c.do(ctx, http.MethodGet, target, "", nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Status returns the server's index status.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var status models.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", "", nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WatchDirectories lists the watched roots.
func (c *Client) WatchDirectories(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", "", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// AddWatchDirectory starts watching path on the server.
func (c *Client) AddWatchDirectory(ctx context.Context, path string) error {
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/v1/watch/directories", "application/json", bytes.NewReader(body), http.StatusCreated, nil)
}

// RemoveWatchDirectory stops watching path on the server.
func (c *Client) RemoveWatchDirectory(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), "", nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, target, contentType string, body io.Reader, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func multipartBody(field string, paths []string, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, "", err
		}
		fw, err := mw.CreateFormFile(field, filepath.Base(p))
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, "", err
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
