package chunkuploader

import (
	"fmt"
	"io"
)

// Plan partitions a file of fileSize bytes into parts of chunkSize bytes.
// All parts except possibly the last one are exactly chunkSize long.
// A zero-byte file yields no parts.
func Plan(fileSize, chunkSize int64) []Part {
	if fileSize <= 0 || chunkSize <= 0 {
		return nil
	}

	count := PartCount(fileSize, chunkSize)
	parts := make([]Part, 0, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * chunkSize
		size := chunkSize
		if remaining := fileSize - offset; remaining < size {
			size = remaining
		}
		parts = append(parts, Part{
			PartNumber: i + 1,
			Offset:     offset,
			Size:       size,
		})
	}

	return parts
}

// PartCount returns ceil(fileSize / chunkSize).
func PartCount(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ReaderAtChunkProvider serves planned parts from an io.ReaderAt.
// Safe for parallel chunk reads, every chunk gets its own section reader.
type ReaderAtChunkProvider struct {
	source io.ReaderAt
	parts  []Part
}

// NewReaderAtChunkProvider creates a ChunkProvider over the given plan.
func NewReaderAtChunkProvider(source io.ReaderAt, parts []Part) *ReaderAtChunkProvider {
	return &ReaderAtChunkProvider{
		source: source,
		parts:  parts,
	}
}

// NumChunks returns the total number of chunks.
func (p *ReaderAtChunkProvider) NumChunks() int {
	return len(p.parts)
}

// ChunkSize returns the size of the chunk at the given index.
func (p *ReaderAtChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.parts) {
		return 0
	}
	return p.parts[index].Size
}

// GetChunk returns a reader for the chunk at the given index.
func (p *ReaderAtChunkProvider) GetChunk(index int) (io.Reader, error) {
	if index < 0 || index >= len(p.parts) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.parts))
	}
	part := p.parts[index]
	return io.NewSectionReader(p.source, part.Offset, part.Size), nil
}

// FilePartOf returns the part with the given 1-based number of provider together with its data.
func FilePartOf(provider ChunkProvider, partNumber int) (FilePart, error) {
	index := partNumber - 1
	if index < 0 || index >= provider.NumChunks() {
		return FilePart{}, fmt.Errorf("part number %d out of range [1, %d]", partNumber, provider.NumChunks())
	}

	var offset int64
	for i := 0; i < index; i++ {
		offset += provider.ChunkSize(i)
	}

	reader, err := provider.GetChunk(index)
	if err != nil {
		return FilePart{}, err
	}

	return FilePart{
		Part: Part{
			PartNumber: partNumber,
			Offset:     offset,
			Size:       provider.ChunkSize(index),
		},
		Data: reader,
	}, nil
}
