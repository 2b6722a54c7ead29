package vecindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	logMagic   = "SIMDXLOG"
	logVersion = uint16(1)
	// logHeaderSize is magic (8) + version (2).
	logHeaderSize = int64(len(logMagic) + 2)
	// frameHeaderSize is payload length (4) + crc32c (4).
	frameHeaderSize = 8
	maxPayloadSize  = 64 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record is one durable log entry. Tag is stored verbatim and never interpreted.
type Record struct {
	Vector []float32 `msgpack:"v"`
	Tag    []byte    `msgpack:"t"`
}

// LoadStats summarizes a replay.
type LoadStats struct {
	Records        int   // framed records scanned, corrupt ones included
	Corrupt        int   // records skipped with a warning
	TruncatedBytes int64 // torn tail removed from the end of the file
}

// PersistenceLog is an append-only file of (vector, tag) records. Each Append is fsynced
// before it returns. File layout:
//
//	header: "SIMDXLOG" | version uint16
//	record: payloadLen uint32 | crc32c(payload) uint32 | msgpack payload
type PersistenceLog struct {
	path       string
	dimensions int
	file       *os.File
	size       int64 // bytes known to hold complete records
	count      int
	loaded     bool
	broken     error
	logger     *zap.Logger
	mu         sync.Mutex
}

// OpenLog opens or creates the log at path for vectors of the given dimension.
// Parent directories are created if they do not exist.
func OpenLog(path string, dimensions int, logger *zap.Logger) (*PersistenceLog, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	l := &PersistenceLog{path: path, dimensions: dimensions, file: f, logger: logger}
	if err := l.readOrWriteHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *PersistenceLog) readOrWriteHeader() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < logHeaderSize {
		// New file, or a crash while the header was being written.
		if err := l.checkPartialHeader(info.Size()); err != nil {
			return err
		}
		if err := l.file.Truncate(0); err != nil {
			return fmt.Errorf("reset log: %w", err)
		}
		header := make([]byte, logHeaderSize)
		copy(header, logMagic)
		binary.LittleEndian.PutUint16(header[len(logMagic):], logVersion)
		if _, err := l.file.Write(header); err != nil {
			return fmt.Errorf("write log header: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("sync log header: %w", err)
		}
		l.size = logHeaderSize
		return nil
	}
	header := make([]byte, logHeaderSize)
	if _, err := l.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read log header: %w", err)
	}
	if string(header[:len(logMagic)]) != logMagic {
		return fmt.Errorf("%s is not a vector log", l.path)
	}
	if v := binary.LittleEndian.Uint16(header[len(logMagic):]); v != logVersion {
		return fmt.Errorf("unsupported vector log version %d", v)
	}
	l.size = logHeaderSize
	return nil
}

// checkPartialHeader refuses to reset a short file unless its bytes are a prefix of the header.
func (l *PersistenceLog) checkPartialHeader(size int64) error {
	if size == 0 {
		return nil
	}
	prefix := make([]byte, size)
	if _, err := l.file.ReadAt(prefix, 0); err != nil {
		return fmt.Errorf("read log header: %w", err)
	}
	n := len(prefix)
	if n > len(logMagic) {
		n = len(logMagic)
	}
	if string(prefix[:n]) != logMagic[:n] {
		return fmt.Errorf("%s is not a vector log", l.path)
	}
	return nil
}

// Load replays every record in append order. fn receives nil for a record that was
// skipped as corrupt; its position is still consumed. A torn tail (part of one frame at
// EOF) is truncated. Damaged framing anywhere else fails with ErrCorruptLog and leaves the
// file untouched.
// Load must be called once before Append.
func (l *PersistenceLog) Load(ctx context.Context, fn func(rec *Record) error) (LoadStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats LoadStats
	info, err := l.file.Stat()
	if err != nil {
		return stats, fmt.Errorf("stat log: %w", err)
	}
	end := info.Size()
	r := bufio.NewReader(io.NewSectionReader(l.file, logHeaderSize, end-logHeaderSize))
	offset := logHeaderSize
	frame := make([]byte, frameHeaderSize)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, err := io.ReadFull(r, frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break // torn frame header
			}
			return stats, fmt.Errorf("read log at offset %d: %w", offset, err)
		}
		n := binary.LittleEndian.Uint32(frame[0:4])
		sum := binary.LittleEndian.Uint32(frame[4:8])
		if n == 0 {
			// Some filesystems leave a zero-filled tail after a crash.
			zeros, err := l.zeroFrom(offset, end)
			if err != nil {
				return stats, err
			}
			if zeros {
				break
			}
		}
		if n == 0 || n > maxPayloadSize {
			// Appends never write such a length, torn or not.
			return stats, fmt.Errorf("%w: record at offset %d declares a %d byte payload", ErrCorruptLog, offset, n)
		}
		if offset+frameHeaderSize+int64(n) > end {
			intact, err := l.intactFrameWithin(offset+frameHeaderSize, end)
			if err != nil {
				return stats, err
			}
			if intact {
				return stats, fmt.Errorf("%w: record at offset %d overruns later records", ErrCorruptLog, offset)
			}
			break // torn payload
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return stats, fmt.Errorf("read log at offset %d: %w", offset, err)
		}
		pos := stats.Records
		stats.Records++
		offset += frameHeaderSize + int64(n)

		rec, decodeErr := l.decode(payload, sum)
		if decodeErr != nil {
			stats.Corrupt++
			l.logger.Warn("skipping corrupt vector log record",
				zap.String("path", l.path),
				zap.Int("position", pos),
				zap.Error(decodeErr))
			rec = nil
		}
		if err := fn(rec); err != nil {
			return stats, err
		}
	}

	if offset < end {
		stats.TruncatedBytes = end - offset
		l.logger.Warn("truncating torn vector log tail",
			zap.String("path", l.path),
			zap.Int64("offset", offset),
			zap.Int64("bytes", stats.TruncatedBytes))
		if err := l.file.Truncate(offset); err != nil {
			return stats, fmt.Errorf("truncate torn tail: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return stats, fmt.Errorf("sync after truncate: %w", err)
		}
	}
	l.size = offset
	l.count = stats.Records
	l.loaded = true
	return stats, nil
}

// intactFrameWithin reports whether any complete frame with a matching checksum starts in
// [start, end). A torn append leaves only part of a single frame, so finding one means the
// framing before it is damaged.
func (l *PersistenceLog) intactFrameWithin(start, end int64) (bool, error) {
	data := make([]byte, end-start)
	if _, err := l.file.ReadAt(data, start); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read log at offset %d: %w", start, err)
	}
	for i := 0; i+frameHeaderSize <= len(data); i++ {
		n := int(binary.LittleEndian.Uint32(data[i : i+4]))
		if n == 0 || n > maxPayloadSize || i+frameHeaderSize+n > len(data) {
			continue
		}
		payload := data[i+frameHeaderSize : i+frameHeaderSize+n]
		if crc32.Checksum(payload, castagnoli) == binary.LittleEndian.Uint32(data[i+4:i+8]) {
			return true, nil
		}
	}
	return false, nil
}

func (l *PersistenceLog) zeroFrom(start, end int64) (bool, error) {
	r := bufio.NewReader(io.NewSectionReader(l.file, start, end-start))
	for {
		b, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("read log at offset %d: %w", start, err)
		}
		if b != 0 {
			return false, nil
		}
	}
}

func (l *PersistenceLog) decode(payload []byte, sum uint32) (*Record, error) {
	if crc32.Checksum(payload, castagnoli) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}
	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := checkDimension(l.dimensions, rec.Vector); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, nil
}

// Append writes one record and fsyncs the file. On failure the partial write is rolled
// back and the error wraps ErrDurability.
func (l *PersistenceLog) Append(vector []float32, tag []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("%w: %w", ErrDurability, ErrClosed)
	}
	if !l.loaded {
		return fmt.Errorf("%w: log not loaded", ErrDurability)
	}
	if l.broken != nil {
		return fmt.Errorf("%w: log unusable after failed rollback: %v", ErrDurability, l.broken)
	}
	payload, err := msgpack.Marshal(&Record{Vector: vector, Tag: tag})
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", ErrDurability, err)
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, castagnoli))
	copy(buf[frameHeaderSize:], payload)

	if _, err := l.file.Write(buf); err != nil {
		l.rollback()
		return fmt.Errorf("%w: write: %v", ErrDurability, err)
	}
	if err := l.file.Sync(); err != nil {
		l.rollback()
		return fmt.Errorf("%w: sync: %v", ErrDurability, err)
	}
	l.size += int64(len(buf))
	l.count++
	return nil
}

func (l *PersistenceLog) rollback() {
	if err := l.file.Truncate(l.size); err != nil {
		l.broken = err
		l.logger.Error("vector log rollback failed", zap.String("path", l.path), zap.Error(err))
	}
}

// Count returns the number of records in the log, corrupt ones included.
func (l *PersistenceLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Path returns the file path of the log.
func (l *PersistenceLog) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *PersistenceLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
