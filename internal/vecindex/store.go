// Package vecindex provides a persistent, exact (flat) L2 vector index whose positions stay
// aligned with an external metadata store across restarts.
package vecindex

import (
	"fmt"
	"sync"
)

// Position is the insertion-order identifier of a stored vector, starting at 0.
type Position uint64

// VectorStore is an append-only flat array of fixed-dimension vectors.
// Slots never change after append, so readers scan a snapshot of the committed prefix
// without holding the lock.
type VectorStore struct {
	dimensions int
	vectors    [][]float32 // nil entry = gap left by a corrupt log record
	live       int
	mu         sync.RWMutex
}

// NewVectorStore creates an empty store for vectors of the given dimension.
func NewVectorStore(dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &VectorStore{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Dimensions returns the fixed vector dimension D.
func (s *VectorStore) Dimensions() int {
	return s.dimensions
}

// Append copies vector into the next slot and returns its Position.
func (s *VectorStore) Append(vector []float32) (Position, error) {
	if err := checkDimension(s.dimensions, vector); err != nil {
		return 0, err
	}
	vec := make([]float32, s.dimensions)
	copy(vec, vector)
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := Position(len(s.vectors))
	s.vectors = append(s.vectors, vec)
	s.live++
	return pos, nil
}

// appendGap consumes a Position without storing a vector.
func (s *VectorStore) appendGap() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := Position(len(s.vectors))
	s.vectors = append(s.vectors, nil)
	return pos
}

// Get returns the vector at pos. ok is false for an unknown position or a gap.
// The returned slice must not be modified.
func (s *VectorStore) Get(pos Position) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos >= Position(len(s.vectors)) {
		return nil, false
	}
	vec := s.vectors[pos]
	return vec, vec != nil
}

// Size returns the number of slots, gaps included.
func (s *VectorStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Live returns the number of slots holding a vector.
func (s *VectorStore) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// snapshot returns the committed prefix. Later appends never touch these slots.
func (s *VectorStore) snapshot() [][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors[:len(s.vectors):len(s.vectors)]
}

// Distance returns the squared Euclidean distance between a and b.
// a and b must have equal length.
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
