package upload

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

const defaultContentType = "application/octet-stream"

// File is the source of an upload. Parts are read concurrently through ReadAt.
type File interface {
	io.ReaderAt
	Name() string
	ContentType() string
	Size() int64
}

type readerAtFile struct {
	io.ReaderAt
	name        string
	contentType string
	size        int64
}

// NewFile wraps an io.ReaderAt, e.g. an in-memory buffer, as a File.
func NewFile(name, contentType string, r io.ReaderAt, size int64) File {
	if contentType == "" {
		contentType = contentTypeByName(name)
	}
	return readerAtFile{
		ReaderAt:    r,
		name:        name,
		contentType: contentType,
		size:        size,
	}
}

func (f readerAtFile) Name() string        { return f.name }
func (f readerAtFile) ContentType() string { return f.contentType }
func (f readerAtFile) Size() int64         { return f.size }

// LocalFile is a File on disk.
type LocalFile struct {
	file        *os.File
	name        string
	contentType string
	size        int64
}

// OpenFile opens the file at pth. The content type is derived from the extension, or sniffed
// from the first bytes when the extension is unknown.
func OpenFile(pth string) (*LocalFile, error) {
	file, err := os.Open(pth)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", pth)
	}

	name := filepath.Base(pth)
	contentType := contentTypeByName(name)
	if contentType == defaultContentType {
		contentType = sniffContentType(file)
	}

	return &LocalFile{
		file:        file,
		name:        name,
		contentType: contentType,
		size:        info.Size(),
	}, nil
}

func (f *LocalFile) ReadAt(p []byte, off int64) (int, error) { return f.file.ReadAt(p, off) }
func (f *LocalFile) Name() string                            { return f.name }
func (f *LocalFile) ContentType() string                     { return f.contentType }
func (f *LocalFile) Size() int64                             { return f.size }

// Close closes the underlying file.
func (f *LocalFile) Close() error {
	return f.file.Close()
}

func contentTypeByName(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultContentType
}

func sniffContentType(r io.ReaderAt) string {
	head := make([]byte, 512)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return defaultContentType
	}
	return http.DetectContentType(head[:n])
}
