// Package extract provides text extraction from the document formats simdex accepts.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for an extension with no extractor.
var ErrUnsupportedFormat = errors.New("unsupported file type")

// plainExtensions are read as UTF-8 text.
var plainExtensions = map[string]bool{
	"":     true,
	".txt": true,
	".md":  true,
	".rst": true,
	".csv": true,
	".cpp": true,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on ext, which includes the leading dot
// (e.g. ".pdf") and is matched case-insensitively.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractOOXML(content, "DOCX", docxLayout)
	case ".pptx":
		return extractOOXML(content, "PPTX", pptxLayout)
	case ".xlsx":
		return extractExcel(content)
	case ".odt", ".odp", ".ods":
		return extractODF(content, strings.ToUpper(ext[1:]))
	}
	if plainExtensions[ext] {
		return extractPlain(content)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// Supported reports whether ext has an extractor.
func (e *Extractor) Supported(ext string) bool {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".odt", ".odp", ".ods":
		return true
	}
	return plainExtensions[ext]
}
