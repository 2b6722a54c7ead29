package vecindex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Service owns a VectorStore and its PersistenceLog behind a single insert/query API.
// After every Insert: store size == log record count == next position.
type Service struct {
	dimensions int
	store      atomic.Pointer[VectorStore] // replaced once by Initialize
	engine     atomic.Pointer[SearchEngine]
	log        *PersistenceLog
	logger     *zap.Logger
	replay     ReplayFunc

	writeMu sync.Mutex // serializes Insert and Initialize
	next    Position
	corrupt int

	initialized atomic.Bool
	closed      atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for replay warnings and lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// ReplayFunc observes each live record recovered by Initialize, in position order.
type ReplayFunc func(pos Position, tag []byte)

// WithReplayHook registers fn to be called for every live record during Initialize.
// Gap slots are not reported.
func WithReplayHook(fn ReplayFunc) Option {
	return func(s *Service) { s.replay = fn }
}

// Open opens (or creates) the log at path and returns an uninitialized Service for vectors
// of the given dimension. Call Initialize before Insert or Query.
func Open(path string, dimensions int, opts ...Option) (*Service, error) {
	s := &Service{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	store, err := NewVectorStore(dimensions)
	if err != nil {
		return nil, err
	}
	log, err := OpenLog(path, dimensions, s.logger)
	if err != nil {
		return nil, err
	}
	s.dimensions = dimensions
	s.engine.Store(NewSearchEngine(store))
	s.store.Store(store)
	s.log = log
	return s, nil
}

// Initialize replays the log into memory, deriving each Position from scan order.
// It is the only place in-memory state is rebuilt. Calling it again is a no-op.
func (s *Service) Initialize(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if s.initialized.Load() {
		return nil
	}
	store, err := NewVectorStore(s.dimensions)
	if err != nil {
		return err
	}
	stats, err := s.log.Load(ctx, func(rec *Record) error {
		if rec == nil {
			store.appendGap()
			return nil
		}
		pos, err := store.Append(rec.Vector)
		if err != nil {
			return err
		}
		if s.replay != nil {
			s.replay(pos, rec.Tag)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay vector log: %w", err)
	}
	if store.Size() != s.log.Count() {
		return fmt.Errorf("replay vector log: store holds %d slots, log holds %d records", store.Size(), s.log.Count())
	}
	s.engine.Store(NewSearchEngine(store))
	s.store.Store(store)
	s.next = Position(store.Size())
	s.corrupt = stats.Corrupt
	s.initialized.Store(true)

	s.logger.Info("vector index initialized",
		zap.String("path", s.log.Path()),
		zap.Int("dimensions", store.Dimensions()),
		zap.Int("size", store.Size()),
		zap.Int("corrupt", stats.Corrupt),
		zap.Int64("truncated_bytes", stats.TruncatedBytes))
	return nil
}

// Insert durably appends vector with its opaque tag and returns the assigned Position.
// Order: validate, durable append, in-memory append. A failed durable append leaves
// memory untouched and is not retried.
func (s *Service) Insert(vector []float32, tag []byte) (Position, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if err := checkDimension(s.dimensions, vector); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := s.log.Append(vector, tag); err != nil {
		return 0, err
	}
	pos, err := s.store.Load().Append(vector)
	if err != nil {
		// Unreachable after validation; the log is now ahead of memory until the next Initialize.
		return 0, err
	}
	if pos != s.next {
		return 0, fmt.Errorf("position drift: store assigned %d, expected %d", pos, s.next)
	}
	s.next++
	return pos, nil
}

// Query returns up to k stored positions nearest to vector.
func (s *Service) Query(vector []float32, k int) ([]Result, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.engine.Load().Search(vector, k)
}

// Size returns the number of positions assigned so far.
func (s *Service) Size() int {
	return s.store.Load().Size()
}

// Dimensions returns the fixed vector dimension.
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Stats describes the index for status reporting.
type Stats struct {
	Dimensions int    `json:"dimensions"`
	Size       int    `json:"size"`
	Live       int    `json:"live"`
	LogRecords int    `json:"log_records"`
	Corrupt    int    `json:"corrupt"`
	LogPath    string `json:"log_path"`
}

// Stats returns a point-in-time summary.
func (s *Service) Stats() Stats {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	store := s.store.Load()
	return Stats{
		Dimensions: s.dimensions,
		Size:       store.Size(),
		Live:       store.Live(),
		LogRecords: s.log.Count(),
		Corrupt:    s.corrupt,
		LogPath:    s.log.Path(),
	}
}

func (s *Service) vectorAt(pos Position) ([]float32, bool) {
	return s.store.Load().Get(pos)
}

// Close closes the log. The Service cannot be used afterwards.
func (s *Service) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.log.Close()
}

func (s *Service) ready() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}
