package vecindex

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch matches any *DimensionMismatchError via errors.Is.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrEmptyIndex is returned by a query against an index with no stored vectors.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrDurability is returned when a log append did not complete. The insert is not applied.
	ErrDurability = errors.New("durable append failed")
	// ErrCorruptRecord marks a log record that could not be replayed. It is only logged.
	ErrCorruptRecord = errors.New("corrupt log record")
	// ErrCorruptLog is returned by Load when the record framing is damaged before the end of
	// the file. Nothing is truncated; the log needs manual repair.
	ErrCorruptLog = errors.New("corrupt log framing")
	// ErrNotInitialized is returned by Insert and Query before Initialize has completed.
	ErrNotInitialized = errors.New("index not initialized")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")
)

// DimensionMismatchError reports a vector whose length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

func checkDimension(expected int, v []float32) error {
	if len(v) != expected {
		return &DimensionMismatchError{Expected: expected, Actual: len(v)}
	}
	return nil
}
