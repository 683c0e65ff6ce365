package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader performs single part uploads to presigned URLs.
// There is no retry: a failed part fails the whole batch and the caller decides whether to resume.
type Uploader struct {
	httpClient *http.Client
	logger     log.Logger
	stats      *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Uploader{
		httpClient: httpClient,
		logger:     logger,
		stats:      NewStats(),
	}
}

// UploadPart PUTs the bytes of part to url and returns the part's ETag.
// onProgress is called with the cumulative number of bytes sent for this part.
// If ctx is cancelled before or during the transfer the returned error matches ErrAborted.
func (u *Uploader) UploadPart(ctx context.Context, part FilePart, url string, onProgress ProgressFunc) (CompletedPart, error) {
	if ctx.Err() != nil {
		return CompletedPart{}, &abortedError{partNumber: part.PartNumber, cause: context.Cause(ctx)}
	}

	u.logger.Debugf("Uploading part %d (%d bytes) [finished=%d] [avg=%v]",
		part.PartNumber, part.Size, u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, newProgressReader(part.Data, onProgress))
	if err != nil {
		return CompletedPart{}, &NetworkError{PartNumber: part.PartNumber, Err: fmt.Errorf("create request: %w", err)}
	}
	req.ContentLength = part.Size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = err
			}
			return CompletedPart{}, &abortedError{partNumber: part.PartNumber, cause: cause}
		}
		return CompletedPart{}, &NetworkError{PartNumber: part.PartNumber, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			u.logger.Warnf("Failed to close response body of part %d: %s", part.PartNumber, err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return CompletedPart{}, &NetworkError{
			PartNumber: part.PartNumber,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upload failed: %s", string(errorBody[:n])),
		}
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return CompletedPart{}, &MissingETagError{PartNumber: part.PartNumber}
	}

	took := time.Since(start)
	u.stats.Update(took, part.Size)
	u.logger.Debugf("Part %d uploaded in %v, ETag: %s", part.PartNumber, took.Round(time.Millisecond), etag)

	return CompletedPart{PartNumber: part.PartNumber, ETag: etag}, nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (u *Uploader) CloseIdleConnections() {
	u.httpClient.CloseIdleConnections()
}
