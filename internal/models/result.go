package models

import "time"

// SearchHit is one ranked result. Document is nil when the Position has no metadata record.
type SearchHit struct {
	Position     uint64    `json:"position"`
	Distance     float64   `json:"distance"`
	MatchPercent float64   `json:"match_percent"`
	Document     *Document `json:"document"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string       `json:"query"`
	K         int          `json:"k"`
	Hits      []*SearchHit `json:"hits"`
	QueryTime int64        `json:"query_time_ms"`
}

// AddResult reports one added (or skipped) document.
type AddResult struct {
	Document *Document `json:"document,omitempty"`
	Filename string    `json:"filename"`
	Skipped  bool      `json:"skipped,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// DocumentList is a page of metadata records, or the matches of a keyword lookup.
type DocumentList struct {
	Documents []*Document `json:"documents"`
	Total     int64       `json:"total"`
	Offset    int         `json:"offset"`
	Limit     int         `json:"limit"`
	Query     string      `json:"query,omitempty"`
	// Suggestion is a corrected query, set when a keyword lookup matched nothing.
	Suggestion string `json:"suggestion,omitempty"`
}

// Status summarizes the index and its collaborators.
type Status struct {
	Dimensions        int       `json:"dimensions"`
	Size              int       `json:"size"`
	Live              int       `json:"live"`
	Corrupt           int       `json:"corrupt"`
	Documents         int64     `json:"documents"`
	KeywordEntries    uint64    `json:"keyword_entries"`
	EmbeddingProvider string    `json:"embedding_provider"`
	CacheEntries      int       `json:"cache_entries"`
	CacheHits         uint64    `json:"cache_hits"`
	CacheMisses       uint64    `json:"cache_misses"`
	VectorLogPath     string    `json:"vector_log_path"`
	DatabasePath      string    `json:"database_path"`
	DiskUsageBytes    int64     `json:"disk_usage_bytes"`
	StartedAt         time.Time `json:"started_at"`
}
