package chunkuploader

import (
	"io"
)

// progressReader wraps the part body and reports the cumulative number of bytes
// handed to the transport after every read.
type progressReader struct {
	r      io.Reader
	loaded int64
	emit   ProgressFunc
}

func newProgressReader(r io.Reader, emit ProgressFunc) *progressReader {
	return &progressReader{r: r, emit: emit}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		if p.emit != nil {
			p.emit(p.loaded)
		}
	}
	return n, err
}
