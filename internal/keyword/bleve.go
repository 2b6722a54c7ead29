package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/simdex/internal/models"
)

const (
	fieldFilename = "filename"
	fieldSnippet  = "snippet"
)

// Word segmentation keeps "budget.xlsx" and "q3_report" as single tokens.
var filenameSeparators = strings.NewReplacer(".", " ", "_", " ", "-", " ")

// Index is a Bleve keyword index. Document IDs are decimal vector positions.
type Index struct {
	index bleve.Index
}

// Open creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory; the library
// re-adds every metadata record on startup.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so "bayes" matches "Bayes".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldFilename, text)
	docMapping.AddFieldMappingsAt(fieldSnippet, text)
	im.DefaultMapping = docMapping
	return im
}

// Add indexes doc under its position. Re-adding a position replaces the entry.
func (b *Index) Add(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Index(positionID(doc.Position), map[string]interface{}{
		fieldFilename: filenameSeparators.Replace(doc.Filename),
		fieldSnippet:  doc.Snippet,
	})
}

// Search runs a match (or fuzzy) query over filename and snippet and returns up to limit hits,
// best first.
func (b *Index) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	filenameBoost := 1.0
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.FilenameBoost > 1 {
			filenameBoost = opts.FilenameBoost
		}
		fuzzy = opts.Fuzzy
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	q := bleve.NewDisjunctionQuery(
		fieldQuery(query, fieldFilename, filenameBoost, fuzzy, fuzziness),
		fieldQuery(query, fieldSnippet, 1, fuzzy, fuzziness),
	)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		pos, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Hit{Position: pos, Score: hit.Score})
	}
	return out, nil
}

// fieldQuery builds a match query for field, or a disjunction of per-term fuzzy queries.
func fieldQuery(query, field string, boost float64, fuzzy bool, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Count returns the number of indexed documents.
func (b *Index) Count() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns every indexed term across filename and snippet with its document frequency.
func (b *Index) Terms() (map[string]int, error) {
	terms := make(map[string]int)
	for _, field := range []string{fieldFilename, fieldSnippet} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s terms: %w", field, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			terms[entry.Term] += int(entry.Count)
		}
		_ = dict.Close()
	}
	return terms, nil
}

// Close closes the Bleve index.
func (b *Index) Close() error {
	return b.index.Close()
}

func positionID(pos uint64) string {
	return strconv.FormatUint(pos, 10)
}
