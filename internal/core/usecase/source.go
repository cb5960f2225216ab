package usecase

import (
	"bytes"
	"io"
	"time"
)

// BytesFile is an in-memory SourceFile.
type BytesFile struct {
	name     string
	mimeType string
	data     []byte
	modified time.Time
}

func NewBytesFile(name, mimeType string, data []byte, modified time.Time) *BytesFile {
	return &BytesFile{name: name, mimeType: mimeType, data: data, modified: modified}
}

func (f *BytesFile) Name() string            { return f.name }
func (f *BytesFile) MimeType() string        { return f.mimeType }
func (f *BytesFile) Size() int64             { return int64(len(f.data)) }
func (f *BytesFile) LastModified() time.Time { return f.modified }

func (f *BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
