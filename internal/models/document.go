// Package models defines the document records, requests and responses shared by the library,
// the HTTP server and the CLI.
package models

import (
	"encoding/json"
	"time"
)

// Document is the metadata record bound to one index Position.
type Document struct {
	Position    uint64    `json:"position"`
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Snippet     string    `json:"snippet"`
	SourcePath  string    `json:"source_path,omitempty"`
	SourceMtime int64     `json:"source_mtime,omitempty"`
	SourceSize  int64     `json:"source_size,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// DocumentInput is one document to add: already-extracted text plus where it came from.
type DocumentInput struct {
	Text       string `json:"text"`
	Filename   string `json:"filename,omitempty"`
	SourcePath string `json:"-"`
	// SourceMtime and SourceSize identify an unchanged watched file.
	SourceMtime int64  `json:"-"`
	SourceSize  int64  `json:"-"`
	MimeType    string `json:"-"`
	SizeBytes   int64  `json:"-"`
}

// IndexTag is the opaque tag stored with each vector in the index log. It duplicates the
// metadata needed to rebuild the metadata store from the log alone.
type IndexTag struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Snippet     string    `json:"snippet"`
	UploadedAt  time.Time `json:"uploaded_at"`
	SourcePath  string    `json:"source_path,omitempty"`
	SourceMtime int64     `json:"source_mtime,omitempty"`
	SourceSize  int64     `json:"source_size,omitempty"`
}

// NewIndexTag copies the recoverable fields of doc.
func NewIndexTag(doc *Document) IndexTag {
	return IndexTag{
		ID:          doc.ID,
		Filename:    doc.Filename,
		Snippet:     doc.Snippet,
		UploadedAt:  doc.UploadedAt,
		SourcePath:  doc.SourcePath,
		SourceMtime: doc.SourceMtime,
		SourceSize:  doc.SourceSize,
	}
}

// Document rebuilds the metadata record for pos from the tag.
func (t IndexTag) Document(pos uint64) *Document {
	return &Document{
		Position:    pos,
		ID:          t.ID,
		Filename:    t.Filename,
		Snippet:     t.Snippet,
		UploadedAt:  t.UploadedAt,
		SourcePath:  t.SourcePath,
		SourceMtime: t.SourceMtime,
		SourceSize:  t.SourceSize,
	}
}

// Marshal encodes the tag.
func (t IndexTag) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// ParseIndexTag decodes a tag written by IndexTag.Marshal.
func ParseIndexTag(data []byte) (IndexTag, error) {
	var t IndexTag
	err := json.Unmarshal(data, &t)
	return t, err
}
