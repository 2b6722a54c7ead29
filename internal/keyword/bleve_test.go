package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/simdex/internal/models"
)

func openIndex(t *testing.T, path string) *Index {
	t.Helper()
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return idx
}

func addDocs(t *testing.T, idx *Index, docs ...*models.Document) {
	t.Helper()
	for _, doc := range docs {
		if err := idx.Add(context.Background(), doc); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
}

func TestIndex_SearchFindsSnippet(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "bleve"))
	defer idx.Close()

	addDocs(t, idx,
		&models.Document{Position: 0, Filename: "notes.txt", Snippet: "Grocery list and errands"},
		&models.Document{Position: 7, Filename: "Ausvet Monthly Report.docx", Snippet: "This report mentions Omnisyan. The Bayes app is also referenced."},
	)

	hits, err := idx.Search(context.Background(), "omnisyan", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 7 {
		t.Fatalf("hits = %+v, want position 7", hits)
	}

	// No stemming, so "bayes" matches "Bayes".
	hits, err = idx.Search(context.Background(), "bayes", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 7 {
		t.Errorf("hits = %+v, want position 7", hits)
	}
}

func TestIndex_SearchFindsFilename(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "bleve"))
	defer idx.Close()

	addDocs(t, idx, &models.Document{Position: 3, Filename: "quarterly-budget.xlsx", Snippet: "numbers"})

	hits, err := idx.Search(context.Background(), "budget", 5, &SearchOptions{FilenameBoost: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 3 {
		t.Errorf("hits = %+v, want position 3", hits)
	}
}

func TestIndex_Fuzzy(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "bleve"))
	defer idx.Close()

	addDocs(t, idx, &models.Document{Position: 1, Filename: "a.txt", Snippet: "overdue invoice for march"})

	hits, err := idx.Search(context.Background(), "invoce", 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("exact search should miss a typo, got %+v", hits)
	}

	hits, err = idx.Search(context.Background(), "invoce", 5, &SearchOptions{Fuzzy: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 1 {
		t.Errorf("fuzzy hits = %+v, want position 1", hits)
	}
}

func TestIndex_SearchEmptyQueryOrLimit(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "bleve"))
	defer idx.Close()
	addDocs(t, idx, &models.Document{Position: 0, Filename: "a.txt", Snippet: "alpha"})

	for _, tc := range []struct {
		query string
		limit int
	}{{"   ", 5}, {"alpha", 0}} {
		hits, err := idx.Search(context.Background(), tc.query, tc.limit, nil)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("Search(%q, %d) = %+v, want none", tc.query, tc.limit, hits)
		}
	}
}

func TestIndex_ReopenKeepsEntriesAndReAddReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx := openIndex(t, path)
	addDocs(t, idx, &models.Document{Position: 2, Filename: "a.txt", Snippet: "uniqueword", UploadedAt: time.Now()})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2 := openIndex(t, path)
	defer idx2.Close()
	hits, err := idx2.Search(context.Background(), "uniqueword", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 2 {
		t.Fatalf("after reopen hits = %+v, want position 2", hits)
	}

	addDocs(t, idx2, &models.Document{Position: 2, Filename: "a.txt", Snippet: "uniqueword"})
	n, err := idx2.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1 after re-adding the same position", n)
	}
}

func TestIndex_Terms(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "bleve"))
	defer idx.Close()
	addDocs(t, idx,
		&models.Document{Position: 0, Filename: "alpha.txt", Snippet: "shared words"},
		&models.Document{Position: 1, Filename: "beta.txt", Snippet: "shared"},
	)

	terms, err := idx.Terms()
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if terms["shared"] != 2 {
		t.Errorf("terms[shared] = %d, want 2", terms["shared"])
	}
	if terms["alpha"] != 1 {
		t.Errorf("terms[alpha] = %d, want 1", terms["alpha"])
	}

	corrected, ok, err := NewSuggester(idx, 2).Suggest("shraed")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || corrected != "shared" {
		t.Errorf("Suggest = %q, %v; want shared, true", corrected, ok)
	}
}

func TestIndex_SearchCancelledContext(t *testing.T) {
	idx := openIndex(t, filepath.Join(t.TempDir(), "bleve"))
	defer idx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Search(ctx, "anything", 5, nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestOpen_createsDir(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	idx := openIndex(t, indexPath)
	_ = idx.Close()

	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index path should exist: %v", err)
	}
}
