package chunkuploader

import (
	"net/http"
	"time"
)

const (
	// DefaultChunkSize is the size of every part except possibly the last one.
	DefaultChunkSize int64 = 8 * 1024 * 1024

	// DefaultConcurrency is the maximum number of part uploads in flight.
	DefaultConcurrency = 6
)

// Config holds configuration for the part uploader.
type Config struct {
	// HTTPClient is the HTTP client to use for part uploads.
	// If nil, a default client will be created.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HTTPClient: DefaultHTTPClient(),
	}
}

// DefaultHTTPClient creates an HTTP client for part uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - presigned URL expiry is enforced by the storage backend
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
