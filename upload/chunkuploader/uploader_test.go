package chunkuploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPart(data []byte) FilePart {
	return FilePart{
		Part: Part{PartNumber: 3, Offset: 0, Size: int64(len(data))},
		Data: bytes.NewReader(data),
	}
}

func TestUploader_UploadPart_Success(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 256*1024)

	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, int64(len(data)), r.ContentLength)
		received, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", "\"etag-3\"")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := New(DefaultConfig(), log.NewLogger())
	defer uploader.CloseIdleConnections()

	var mu sync.Mutex
	var reports []int64
	completed, err := uploader.UploadPart(context.Background(), newTestPart(data), server.URL, func(loaded int64) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, loaded)
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, CompletedPart{PartNumber: 3, ETag: "\"etag-3\""}, completed)
	assert.Equal(t, data, received)

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
	assert.Equal(t, int64(len(data)), reports[len(reports)-1])
	assert.Equal(t, int64(1), uploader.Stats().FinishedCount())
	assert.Equal(t, int64(len(data)), uploader.Stats().Bytes())
}

func TestUploader_UploadPart_MissingETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := New(DefaultConfig(), log.NewLogger())
	_, err := uploader.UploadPart(context.Background(), newTestPart([]byte("data")), server.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingETag))
	var missing *MissingETagError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 3, missing.PartNumber)
}

func TestUploader_UploadPart_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Request has expired"))
	}))
	defer server.Close()

	uploader := New(DefaultConfig(), log.NewLogger())
	_, err := uploader.UploadPart(context.Background(), newTestPart([]byte("data")), server.URL, nil)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 3, netErr.PartNumber)
	assert.Equal(t, http.StatusForbidden, netErr.StatusCode)
	assert.Contains(t, err.Error(), "Request has expired")
	assert.False(t, errors.Is(err, ErrAborted))
}

func TestUploader_UploadPart_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	uploader := New(DefaultConfig(), log.NewLogger())
	_, err := uploader.UploadPart(context.Background(), newTestPart([]byte("data")), url, nil)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 0, netErr.StatusCode)
	assert.Contains(t, err.Error(), "upload part 3")
}

func TestUploader_UploadPart_Cancelled(t *testing.T) {
	var requests int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	uploader := New(DefaultConfig(), log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := uploader.UploadPart(ctx, newTestPart([]byte("data")), server.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestUploader_UploadPart_AlreadyCancelled(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer server.Close()

	uploader := New(DefaultConfig(), log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uploader.UploadPart(ctx, newTestPart([]byte("data")), server.URL, nil)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestStats(t *testing.T) {
	stats := NewStats()

	assert.Equal(t, int64(0), stats.FinishedCount())
	assert.Equal(t, time.Duration(0), stats.Average())

	stats.Update(100*time.Millisecond, 10)
	stats.Update(200*time.Millisecond, 20)
	stats.Update(300*time.Millisecond, 30)

	assert.Equal(t, int64(3), stats.FinishedCount())
	assert.Equal(t, 200*time.Millisecond, stats.Average())
	assert.Equal(t, 600*time.Millisecond, stats.TotalDuration())
	assert.Equal(t, int64(60), stats.Bytes())
}
