// Package fileid identifies watched files and their versions.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const prefix = "file:"

// Source is one version of a file on disk.
type Source struct {
	Path  string
	Mtime int64 // Unix seconds
	Size  int64
}

// Stat returns the Source for path, with path made absolute and cleaned.
func Stat(path string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Source{}, err
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("%s is a directory", abs)
	}
	return Source{Path: abs, Mtime: info.ModTime().Unix(), Size: info.Size()}, nil
}

// Same reports whether a record with the given mtime and size describes this version.
func (s Source) Same(mtime, size int64) bool {
	return s.Mtime == mtime && s.Size == size
}

// DocID returns a stable document ID for this version of the file.
// The same path, mtime and size always yield the same ID.
func (s Source) DocID() string {
	h := sha256.New()
	h.Write([]byte(filepath.Clean(s.Path)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(s.Mtime, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(s.Size, 10)))
	return prefix + hex.EncodeToString(h.Sum(nil))
}
