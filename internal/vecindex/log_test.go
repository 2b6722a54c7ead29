package vecindex

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func openLoadedLog(t *testing.T, path string, dim int) *PersistenceLog {
	t.Helper()
	l, err := OpenLog(path, dim, nil)
	require.NoError(t, err)
	_, err = l.Load(context.Background(), func(*Record) error { return nil })
	require.NoError(t, err)
	return l
}

// frameOffsets walks the framing of a log file and returns the offset of every record.
func frameOffsets(t *testing.T, path string) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var offsets []int64
	off := logHeaderSize
	for off+frameHeaderSize <= int64(len(data)) {
		n := int64(binary.LittleEndian.Uint32(data[off : off+4]))
		if off+frameHeaderSize+n > int64(len(data)) {
			break
		}
		offsets = append(offsets, off)
		off += frameHeaderSize + n
	}
	return offsets
}

func TestLogCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vectors.log")
	l, err := OpenLog(path, 2, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, int(logHeaderSize))
	assert.Equal(t, logMagic, string(data[:len(logMagic)]))
	assert.Equal(t, logVersion, binary.LittleEndian.Uint16(data[len(logMagic):]))
}

func TestLogRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a vector log"), 0644))

	_, err := OpenLog(path, 2, nil)
	assert.Error(t, err)
}

func TestLogRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	header := make([]byte, logHeaderSize)
	copy(header, logMagic)
	binary.LittleEndian.PutUint16(header[len(logMagic):], 99)
	require.NoError(t, os.WriteFile(path, header, 0644))

	_, err := OpenLog(path, 2, nil)
	assert.ErrorContains(t, err, "version 99")
}

func TestLogAppendRequiresLoad(t *testing.T) {
	l, err := OpenLog(filepath.Join(t.TempDir(), "vectors.log"), 2, nil)
	require.NoError(t, err)
	defer l.Close()

	err = l.Append([]float32{1, 2}, nil)
	assert.ErrorIs(t, err, ErrDurability)
}

func TestLogRoundTripPreservesOrderAndTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	require.NoError(t, l.Append([]float32{1, 0}, []byte("a")))
	require.NoError(t, l.Append([]float32{0, 1}, []byte("b")))
	require.NoError(t, l.Append([]float32{1, 1}, nil))
	assert.Equal(t, 3, l.Count())
	require.NoError(t, l.Close())

	l2, err := OpenLog(path, 2, nil)
	require.NoError(t, err)
	defer l2.Close()

	var got []Record
	stats, err := l2.Load(context.Background(), func(rec *Record) error {
		require.NotNil(t, rec)
		got = append(got, *rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Records: 3}, stats)
	require.Len(t, got, 3)
	assert.Equal(t, []float32{1, 0}, got[0].Vector)
	assert.Equal(t, []byte("a"), got[0].Tag)
	assert.Equal(t, []float32{0, 1}, got[1].Vector)
	assert.Equal(t, []byte("b"), got[1].Tag)
	assert.Equal(t, []float32{1, 1}, got[2].Vector)
	assert.Empty(t, got[2].Tag)
}

func TestLogCorruptRecordIsSkippedWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		require.NoError(t, l.Append(v, nil))
	}
	require.NoError(t, l.Close())

	offsets := frameOffsets(t, path)
	require.Len(t, offsets, 3)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[offsets[1]+frameHeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	core, logs := observer.New(zap.WarnLevel)
	l2, err := OpenLog(path, 2, zap.New(core))
	require.NoError(t, err)
	defer l2.Close()

	var seen []*Record
	stats, err := l2.Load(context.Background(), func(rec *Record) error {
		seen = append(seen, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 1, stats.Corrupt)
	require.Len(t, seen, 3)
	assert.NotNil(t, seen[0])
	assert.Nil(t, seen[1])
	assert.NotNil(t, seen[2])
	assert.Equal(t, 3, l2.Count())
	assert.Equal(t, 1, logs.FilterMessage("skipping corrupt vector log record").Len())
}

func TestLogTornTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	require.NoError(t, l.Append([]float32{1, 0}, nil))
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	goodSize := info.Size()

	// Frame header promising 16 payload bytes, followed by only one.
	torn := []byte{16, 0, 0, 0, 1, 2, 3, 4, 5}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(torn)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := OpenLog(path, 2, nil)
	require.NoError(t, err)
	stats, err := l2.Load(context.Background(), func(*Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, int64(len(torn)), stats.TruncatedBytes)

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, goodSize, info.Size())

	require.NoError(t, l2.Append([]float32{0, 1}, nil))
	require.NoError(t, l2.Close())
	assert.Len(t, frameOffsets(t, path), 2)
}

func TestLogDimensionChangeMarksRecordsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	require.NoError(t, l.Append([]float32{1, 0}, nil))
	require.NoError(t, l.Close())

	l2, err := OpenLog(path, 3, nil)
	require.NoError(t, err)
	defer l2.Close()
	stats, err := l2.Load(context.Background(), func(rec *Record) error {
		assert.Nil(t, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Corrupt)
}

func TestLogLoadHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	require.NoError(t, l.Append([]float32{1, 0}, nil))
	require.NoError(t, l.Close())

	l2, err := OpenLog(path, 2, nil)
	require.NoError(t, err)
	defer l2.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l2.Load(ctx, func(*Record) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogAppendAfterClose(t *testing.T) {
	l := openLoadedLog(t, filepath.Join(t.TempDir(), "vectors.log"), 2)
	require.NoError(t, l.Close())

	err := l.Append([]float32{1, 0}, nil)
	assert.ErrorIs(t, err, ErrDurability)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLogCorruptLengthFieldDoesNotTruncateLaterRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Append([]float32{float32(i), 1}, []byte{byte(i)}))
	}
	require.NoError(t, l.Close())

	offsets := frameOffsets(t, path)
	require.Len(t, offsets, 4)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		length uint32
	}{
		{"implausible length", 0xFFFFFF00},
		{"length running past EOF", uint32(len(data))},
		{"zero length", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			damaged := append([]byte(nil), data...)
			binary.LittleEndian.PutUint32(damaged[offsets[1]:], tt.length)
			require.NoError(t, os.WriteFile(path, damaged, 0644))

			l2, err := OpenLog(path, 2, nil)
			require.NoError(t, err)
			defer l2.Close()
			var replayed int
			_, err = l2.Load(context.Background(), func(*Record) error {
				replayed++
				return nil
			})
			assert.ErrorIs(t, err, ErrCorruptLog)
			assert.Equal(t, 1, replayed)
			assert.ErrorContains(t, l2.Append([]float32{9, 9}, nil), "not loaded")

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, damaged, after, "log must not be truncated or appended to")
		})
	}
}

func TestLogZeroFilledTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.log")
	l := openLoadedLog(t, path, 2)
	require.NoError(t, l.Append([]float32{1, 0}, nil))
	require.NoError(t, l.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := OpenLog(path, 2, nil)
	require.NoError(t, err)
	defer l2.Close()
	stats, err := l2.Load(context.Background(), func(*Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, int64(32), stats.TruncatedBytes)
}

func TestLogShortFileHeader(t *testing.T) {
	t.Run("foreign bytes are rejected and kept", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.log")
		require.NoError(t, os.WriteFile(path, []byte("notes"), 0644))

		_, err := OpenLog(path, 2, nil)
		assert.ErrorContains(t, err, "not a vector log")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "notes", string(data))
	})

	t.Run("partial header is rewritten", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.log")
		require.NoError(t, os.WriteFile(path, []byte(logMagic[:4]), 0644))

		l, err := OpenLog(path, 2, nil)
		require.NoError(t, err)
		require.NoError(t, l.Close())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Len(t, data, int(logHeaderSize))
		assert.Equal(t, logMagic, string(data[:len(logMagic)]))
	})
}
