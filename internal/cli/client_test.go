package cli

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/simdex/internal/config"
	"github.com/hyperjump/simdex/internal/library"
	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/internal/server"
)

type fakeWatch struct {
	dirs []string
}

func (f *fakeWatch) Directories() []string { return append([]string(nil), f.dirs...) }

func (f *fakeWatch) AddDirectory(path string) error {
	f.dirs = append(f.dirs, path)
	return nil
}

func (f *fakeWatch) RemoveDirectory(path string) error {
	for i, d := range f.dirs {
		if d == path {
			f.dirs = append(f.dirs[:i], f.dirs[i+1:]...)
		}
	}
	return nil
}

func newTestClient(t *testing.T) (*Client, *fakeWatch) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:   filepath.Join(dir, "documents.db"),
			VectorLogPath:  filepath.Join(dir, "vectors.log"),
			BleveIndexPath: filepath.Join(dir, "bleve"),
		},
		Embedding: config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 8},
	}
	config.ApplyDefaults(cfg)
	lib, err := library.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lib.Close() })

	watch := &fakeWatch{}
	ts := httptest.NewServer(server.New(lib, nil, server.WithWatch(watch)).Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", 5*time.Second), watch
}

func writeFiles(t *testing.T, files map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestClientAddAndSearch(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	paths := writeFiles(t, map[string]string{"budget.txt": "quarterly budget for the platform team"})
	results, err := c.AddFiles(ctx, paths)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Error != "" || results[0].Document == nil {
		t.Fatalf("add results: %+v", results)
	}

	resp, err := c.SearchFile(ctx, paths[0], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].Position != results[0].Document.Position {
		t.Fatalf("search by file: %+v", resp.Hits)
	}
	if resp.Hits[0].Distance != 0 {
		t.Errorf("identical text should have distance 0, got %f", resp.Hits[0].Distance)
	}

	list, err := c.ListDocuments(ctx, "budget", 0, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Documents) != 1 || list.Documents[0].Filename != "budget.txt" {
		t.Errorf("keyword lookup: %+v", list.Documents)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 1 || st.Documents != 1 {
		t.Errorf("status: %+v", st)
	}
}

func TestClientServerErrors(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Search(context.Background(), models.SearchRequest{Query: "anything"})
	if err == nil {
		t.Fatal("expected error searching an empty index")
	}
	if !strings.Contains(err.Error(), "409") {
		t.Errorf("error should carry the status code: %v", err)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Error("an HTTP error response is not a transport failure")
	}
}

func TestClientWatchDirectories(t *testing.T) {
	c, watch := newTestClient(t)
	ctx := context.Background()
	dir := t.TempDir()

	if err := c.AddWatchDirectory(ctx, dir); err != nil {
		t.Fatal(err)
	}
	dirs, err := c.WatchDirectories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 || dirs[0] != dir {
		t.Errorf("directories: %v", dirs)
	}
	if err := c.RemoveWatchDirectory(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if len(watch.dirs) != 0 {
		t.Errorf("after remove: %v", watch.dirs)
	}
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, time.Second).Status(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("got %v, want ErrUnreachable", err)
	}
}

func TestClientMissingFile(t *testing.T) {
	c := NewClient("http://localhost:0", time.Second)
	_, err := c.AddFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope.txt")})
	if err == nil || errors.Is(err, ErrUnreachable) {
		t.Errorf("expected a local read error, got %v", err)
	}
}
