package utils

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", debug, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%v) returned nil logger", debug)
		}
		_ = logger.Sync()
	}
}

func TestNamed_nilLogger(t *testing.T) {
	l := Named(nil, "x")
	if l == nil {
		t.Fatal("Named(nil) returned nil")
	}
	l.Info("discarded")
}
