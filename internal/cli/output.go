// Package cli provides output formatting and the HTTP client used by the simdex command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/simdex/internal/models"
	"github.com/hyperjump/simdex/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a --output flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for i, hit := range response.Hits {
			fmt.Fprintf(w, "%d\t%d\t%.1f%%\t%s\n", i+1, hit.Position, hit.MatchPercent, hitFilename(hit))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d of %d requested in %dms\n\n", len(response.Hits), response.K, response.QueryTime)
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Position: %d | Match: %.1f%% (distance %.4f)\n",
			i+1, hit.Position, hit.MatchPercent, hit.Distance)
		if hit.Document == nil {
			fmt.Fprintf(w, "(no metadata)\n\n")
			continue
		}
		fmt.Fprintf(w, "File: %s\n", hit.Document.Filename)
		if hit.Document.SourcePath != "" {
			fmt.Fprintf(w, "Path: %s\n", hit.Document.SourcePath)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Document.Snippet, 200))
	}
}

func hitFilename(hit *models.SearchHit) string {
	if hit.Document == nil {
		return "-"
	}
	return hit.Document.Filename
}

// WriteDocumentList writes a page of documents or keyword matches.
func WriteDocumentList(w io.Writer, list *models.DocumentList, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, list)
	}
	if list.Suggestion != "" {
		fmt.Fprintf(w, "No matches for %q. Did you mean %q?\n", list.Query, list.Suggestion)
	}
	for _, doc := range list.Documents {
		if format == OutputCompact {
			fmt.Fprintf(w, "%d\t%s\n", doc.Position, doc.Filename)
			continue
		}
		fmt.Fprintf(w, "%6d  %-32s  %s\n", doc.Position, doc.Filename, utils.Truncate(doc.Snippet, 60))
	}
	if format == OutputText {
		fmt.Fprintf(w, "\n%d shown, %d total\n", len(list.Documents), list.Total)
	}
	return nil
}

// WriteAddResults reports added, skipped and failed files.
func WriteAddResults(w io.Writer, results []*models.AddResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	for _, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "failed   %s: %s\n", r.Filename, r.Error)
		case r.Skipped:
			fmt.Fprintf(w, "unchanged %s\n", r.Filename)
		case r.Document != nil:
			fmt.Fprintf(w, "added    %s (position %d)\n", r.Filename, r.Document.Position)
		}
	}
	return nil
}

// WriteStatus writes index status as aligned key/value lines or JSON.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "size:               %d   # positions assigned\n", status.Size)
	fmt.Fprintf(w, "live:               %d   # searchable vectors\n", status.Live)
	fmt.Fprintf(w, "corrupt:            %d   # positions lost to damaged log records\n", status.Corrupt)
	fmt.Fprintf(w, "documents:          %d   # metadata records\n", status.Documents)
	fmt.Fprintf(w, "keyword_entries:    %d\n", status.KeywordEntries)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", status.DiskUsageBytes)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "dimensions:         %d\n", status.Dimensions)
	fmt.Fprintf(w, "embedding_provider: %s\n", status.EmbeddingProvider)
	if status.CacheEntries > 0 || status.CacheHits > 0 || status.CacheMisses > 0 {
		fmt.Fprintf(w, "embedding_cache:    %d entries, %d hits, %d misses\n",
			status.CacheEntries, status.CacheHits, status.CacheMisses)
	}
	fmt.Fprintf(w, "vector_log_path:    %s\n", status.VectorLogPath)
	fmt.Fprintf(w, "database_path:      %s\n", status.DatabasePath)
	if !status.StartedAt.IsZero() {
		fmt.Fprintf(w, "started_at:         %s\n", status.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
