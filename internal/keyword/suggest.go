package keyword

import (
	"strings"
)

// Suggester proposes corrected queries from the indexed vocabulary.
type Suggester struct {
	dict        TermDictionary
	maxDistance int
}

// NewSuggester returns a Suggester accepting corrections within maxDistance edits (default 2).
func NewSuggester(dict TermDictionary, maxDistance int) *Suggester {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	return &Suggester{dict: dict, maxDistance: maxDistance}
}

// Suggest returns query with every unknown term replaced by its closest indexed term.
// ok is false when nothing was corrected.
func (s *Suggester) Suggest(query string) (corrected string, ok bool, err error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return query, false, nil
	}
	vocab, err := s.dict.Terms()
	if err != nil {
		return query, false, err
	}
	out := make([]string, len(terms))
	for i, term := range terms {
		out[i] = term
		if _, known := vocab[term]; known {
			continue
		}
		if best, found := s.closest(term, vocab); found {
			out[i] = best
			ok = true
		}
	}
	if !ok {
		return query, false, nil
	}
	return strings.Join(out, " "), true, nil
}

// closest picks the nearest term; ties go to the more frequent term, then lexical order.
func (s *Suggester) closest(term string, vocab map[string]int) (string, bool) {
	best, bestDist, bestFreq := "", s.maxDistance+1, 0
	n := len([]rune(term))
	for cand, freq := range vocab {
		diff := len([]rune(cand)) - n
		if diff < 0 {
			diff = -diff
		}
		if diff > s.maxDistance {
			continue
		}
		d := editDistance(term, cand)
		if d > s.maxDistance {
			continue
		}
		if d < bestDist || (d == bestDist && (freq > bestFreq || (freq == bestFreq && cand < best))) {
			best, bestDist, bestFreq = cand, d, freq
		}
	}
	return best, best != ""
}
