// Package chunkuploader splits a file into fixed-size parts and uploads single parts to presigned
// URLs under a shared concurrency limit.
package chunkuploader

import (
	"io"
)

// Part describes the byte range of a source file assigned to one upload part.
type Part struct {
	// PartNumber is 1-based and contiguous within a plan.
	PartNumber int
	Offset     int64
	Size       int64
}

// FilePart is a planned part together with the reader for its bytes.
type FilePart struct {
	Part
	Data io.Reader
}

// CompletedPart is a part acknowledged by the storage backend.
type CompletedPart struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// ChunkProvider provides chunk data for upload.
// Implementations can read from files, memory buffers, or any io.ReaderAt.
type ChunkProvider interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64

	// GetChunk returns a reader for the chunk at the given index.
	// GetChunk may be called multiple times for the same index, e.g. when a paused upload is resumed.
	GetChunk(index int) (io.Reader, error)
}

// ProgressFunc receives the number of bytes of a single part transferred so far.
type ProgressFunc func(loaded int64)
