package vecindex

import "container/heap"

// Result is one ranked hit.
type Result struct {
	Position Position `json:"position"`
	Distance float64  `json:"distance"`
}

// SearchEngine ranks every stored vector by exact squared L2 distance.
type SearchEngine struct {
	store *VectorStore
}

// NewSearchEngine returns a search engine over store.
func NewSearchEngine(store *VectorStore) *SearchEngine {
	return &SearchEngine{store: store}
}

// Search returns up to k results ordered by ascending distance, ties by ascending Position.
// It scans the prefix of the store committed when the call starts; gap slots are skipped.
func (e *SearchEngine) Search(query []float32, k int) ([]Result, error) {
	if e.store.Size() == 0 {
		return nil, ErrEmptyIndex
	}
	if err := checkDimension(e.store.Dimensions(), query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Result{}, nil
	}
	slots := e.store.snapshot()
	if k > len(slots) {
		k = len(slots)
	}
	h := make(resultHeap, 0, k)
	for i, vec := range slots {
		if vec == nil {
			continue
		}
		r := Result{Position: Position(i), Distance: Distance(query, vec)}
		if len(h) < k {
			heap.Push(&h, r)
			continue
		}
		if worse(h[0], r) {
			h[0] = r
			heap.Fix(&h, 0)
		}
	}
	out := make([]Result, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Result)
	}
	return out, nil
}

// worse reports whether a ranks after b.
func worse(a, b Result) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Position > b.Position
}

// resultHeap keeps the worst of the current top-k at the root.
type resultHeap []Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
