package vecindex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorStoreAppendAssignsSequentialPositions(t *testing.T) {
	s, err := NewVectorStore(3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		before := s.Size()
		pos, err := s.Append([]float32{float32(i), 0, 0})
		require.NoError(t, err)
		assert.Equal(t, Position(before), pos)
	}
	assert.Equal(t, 5, s.Size())
	assert.Equal(t, 5, s.Live())
}

func TestVectorStoreRejectsWrongDimension(t *testing.T) {
	s, err := NewVectorStore(3)
	require.NoError(t, err)

	_, err = s.Append([]float32{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
	assert.Equal(t, 0, s.Size())
}

func TestVectorStoreCopiesInput(t *testing.T) {
	s, err := NewVectorStore(2)
	require.NoError(t, err)

	in := []float32{1, 2}
	pos, err := s.Append(in)
	require.NoError(t, err)
	in[0] = 99

	got, ok := s.Get(pos)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestVectorStoreGaps(t *testing.T) {
	s, err := NewVectorStore(2)
	require.NoError(t, err)

	_, err = s.Append([]float32{1, 1})
	require.NoError(t, err)
	gap := s.appendGap()
	pos, err := s.Append([]float32{2, 2})
	require.NoError(t, err)

	assert.Equal(t, Position(1), gap)
	assert.Equal(t, Position(2), pos)
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 2, s.Live())

	_, ok := s.Get(gap)
	assert.False(t, ok)
	_, ok = s.Get(10)
	assert.False(t, ok)
}

func TestNewVectorStoreInvalidDimensions(t *testing.T) {
	_, err := NewVectorStore(0)
	assert.Error(t, err)
	_, err = NewVectorStore(-1)
	assert.Error(t, err)
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit axes", []float32{1, 0}, []float32{0, 1}, 2},
		{"diagonal", []float32{1, 0}, []float32{1, 1}, 1},
		{"negative", []float32{-1, -1}, []float32{1, 1}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), 1e-9)
		})
	}
}
