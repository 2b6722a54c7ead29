// Package keyword provides a Bleve index over document metadata (filename and snippet),
// keyed by vector position.
package keyword

// SearchOptions optional parameters for keyword lookup. Nil means use defaults.
type SearchOptions struct {
	// FilenameBoost multiplies matches in the filename field. Values <= 1 mean no boost.
	FilenameBoost float64
	// Fuzzy enables typo tolerance.
	Fuzzy bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2, default 1).
	Fuzziness int
}

// Hit is a single keyword match.
type Hit struct {
	Position uint64
	Score    float64
}

// TermDictionary lists indexed terms with their document frequency.
type TermDictionary interface {
	Terms() (map[string]int, error)
}
