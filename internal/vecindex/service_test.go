package vecindex

import (
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openService(t *testing.T, path string, dim int) *Service {
	t.Helper()
	s, err := Open(path, dim)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServiceRequiresInitialize(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vectors.log"), 2)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert([]float32{1, 0}, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.Query([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestServiceInitializeIsIdempotent(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 2)
	_, err := s.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, s.Size())
}

func TestServiceScenario(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 2)

	for i, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		pos, err := s.Insert(v, []byte{"abc"[i]})
		require.NoError(t, err)
		assert.Equal(t, Position(i), pos)
	}

	got, err := s.Query([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []Result{{Position: 0, Distance: 0}, {Position: 2, Distance: 1}}, got)
}

func TestServiceInsertReturnsPriorSize(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 4)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		v := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		before := s.Size()
		pos, err := s.Insert(v, nil)
		require.NoError(t, err)
		assert.Equal(t, Position(before), pos)
	}
}

func TestServiceRoundTrip(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 3)
	_, err := s.Insert([]float32{5, 5, 5}, nil)
	require.NoError(t, err)

	v := []float32{0.25, -0.5, 1}
	pos, err := s.Insert(v, []byte("tag"))
	require.NoError(t, err)

	got, err := s.Query(v, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pos, got[0].Position)
	assert.Equal(t, 0.0, got[0].Distance)
}

func TestServiceBoundaries(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 2)

	_, err := s.Query([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	_, err = s.Insert([]float32{1, 0, 0}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, 0, s.log.Count())

	_, err = s.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)

	_, err = s.Query([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, s.Size())
}

func TestServiceReplayIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	rng := rand.New(rand.NewSource(3))

	s, err := Open(path, 3)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	var inserted [][]float32
	for i := 0; i < 20; i++ {
		v := []float32{rng.Float32(), rng.Float32(), rng.Float32()}
		_, err := s.Insert(v, []byte{byte(i)})
		require.NoError(t, err)
		inserted = append(inserted, v)
	}
	require.NoError(t, s.Close())

	for round := 0; round < 2; round++ {
		s2 := openService(t, path, 3)
		require.Equal(t, len(inserted), s2.Size())
		for i, want := range inserted {
			got, ok := s2.vectorAt(Position(i))
			require.True(t, ok)
			assert.Equal(t, want, got)
		}
		require.NoError(t, s2.Close())
	}
}

func TestServiceCorruptRecordLeavesGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	s := openService(t, path, 2)
	for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		_, err := s.Insert(v, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	offsets := frameOffsets(t, path)
	require.Len(t, offsets, 3)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[offsets[1]+frameHeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	s2 := openService(t, path, 2)
	assert.Equal(t, 3, s2.Size())
	stats := s2.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 1, stats.Corrupt)
	assert.Equal(t, 3, stats.LogRecords)

	// Surviving records keep their positions; the gap is never returned.
	got, err := s2.Query([]float32{0, 1}, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Position(2), got[0].Position)
	assert.Equal(t, Position(0), got[1].Position)

	pos, err := s2.Insert([]float32{0, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Position(3), pos)
}

func TestServiceRecoversFromTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	s := openService(t, path, 2)
	_, err := s.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)
	_, err = s.Insert([]float32{0, 1}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2 := openService(t, path, 2)
	assert.Equal(t, 2, s2.Size())
	pos, err := s2.Insert([]float32{1, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Position(2), pos)
	require.NoError(t, s2.Close())

	s3 := openService(t, path, 2)
	assert.Equal(t, 3, s3.Size())
	got, ok := s3.vectorAt(2)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 1}, got)
}

func TestServiceDimensionChangeAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	s := openService(t, path, 2)
	_, err := s.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2 := openService(t, path, 3)
	assert.Equal(t, 1, s2.Size())
	assert.Equal(t, 0, s2.Stats().Live)

	got, err := s2.Query([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	pos, err := s2.Insert([]float32{1, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, Position(1), pos)
}

func TestServiceDurabilityFailureLeavesMemoryUntouched(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 2)
	_, err := s.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)

	require.NoError(t, s.log.Close())
	_, err = s.Insert([]float32{0, 1}, nil)
	assert.ErrorIs(t, err, ErrDurability)
	assert.Equal(t, 1, s.Size())
}

func TestServiceClosed(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 2)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Insert([]float32{1, 0}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Query([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrClosed)
}

func TestServiceConcurrentInsertAndQuery(t *testing.T) {
	s := openService(t, filepath.Join(t.TempDir(), "vectors.log"), 4)
	_, err := s.Insert([]float32{0, 0, 0, 0}, nil)
	require.NoError(t, err)

	const writers, perWriter = 4, 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions = make(map[Position]bool)
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				pos, err := s.Insert([]float32{float32(w), float32(i), 1, 1}, nil)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				positions[pos] = true
				mu.Unlock()
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				got, err := s.Query([]float32{1, 1, 1, 1}, 5)
				if !assert.NoError(t, err) {
					return
				}
				for j := 1; j < len(got); j++ {
					assert.False(t, worse(got[j-1], got[j]))
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, positions, writers*perWriter)
	assert.Equal(t, writers*perWriter+1, s.Size())
	for p := Position(1); p <= writers*perWriter; p++ {
		assert.True(t, positions[p], "missing position %d", p)
	}
	stats := s.Stats()
	assert.Equal(t, stats.Size, stats.LogRecords)
}

func TestServiceReplayHookSeesLiveRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	s := openService(t, path, 2)
	for i, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		_, err := s.Insert(v, []byte{"xyz"[i]})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	offsets := frameOffsets(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[offsets[1]+frameHeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	seen := make(map[Position]string)
	s2, err := Open(path, 2, WithReplayHook(func(pos Position, tag []byte) {
		seen[pos] = string(tag)
	}))
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Initialize(context.Background()))

	assert.Equal(t, map[Position]string{0: "x", 2: "z"}, seen)
}

func TestServiceCorruptLengthFieldNeverReusesPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	s := openService(t, path, 2)
	for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}, {2, 1}} {
		_, err := s.Insert(v, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	offsets := frameOffsets(t, path)
	require.Len(t, offsets, 4)
	original, err := os.ReadFile(path)
	require.NoError(t, err)
	damaged := append([]byte(nil), original...)
	binary.LittleEndian.PutUint32(damaged[offsets[1]:], 0xFFFFFF00)
	require.NoError(t, os.WriteFile(path, damaged, 0644))

	s2, err := Open(path, 2)
	require.NoError(t, err)
	err = s2.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrCorruptLog)
	_, err = s2.Insert([]float32{3, 3}, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, s2.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, damaged, after)

	// Once repaired, the next insert continues after every record ever assigned.
	require.NoError(t, os.WriteFile(path, original, 0644))
	s3 := openService(t, path, 2)
	assert.Equal(t, 4, s3.Size())
	pos, err := s3.Insert([]float32{3, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, Position(4), pos)
}

func TestServiceSizeDuringInitialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	s := openService(t, path, 2)
	for i := 0; i < 50; i++ {
		_, err := s.Insert([]float32{float32(i), 1}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s2, err := Open(path, 2)
	require.NoError(t, err)
	defer s2.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if n := s2.Size(); n != 0 && n != 50 {
				t.Errorf("Size() = %d mid-replay", n)
				return
			}
			_ = s2.Stats()
		}
	}()
	require.NoError(t, s2.Initialize(context.Background()))
	<-done
	assert.Equal(t, 50, s2.Size())
}
