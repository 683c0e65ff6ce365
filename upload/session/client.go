// Package session is the client of the backend endpoints that manage a multipart upload:
// initiate, presigned part URLs and completion.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
	"github.com/hashicorp/go-retryablehttp"
)

// TokenSource provides the bearer token of the API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// Client calls the upload endpoints of the API.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	tokens     TokenSource
	logger     log.Logger
}

// NewClient creates a Client. tokens may be nil for APIs without authentication.
func NewClient(httpClient *retryablehttp.Client, baseURL string, tokens TokenSource, logger log.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		logger:     logger,
	}
}

// Initiate starts a multipart upload for the described file.
func (c *Client) Initiate(ctx context.Context, request InitiateRequest) (Session, error) {
	c.logger.Debugf("Initiate upload of %s (%d bytes) into %q", request.FileName, request.FileSize, request.Folder)

	var response Session
	if err := c.post(ctx, initiateUploadPath, request, ErrInitiation, &response); err != nil {
		return Session{}, err
	}
	if response.UploadID == "" || response.Key == "" {
		return Session{}, fmt.Errorf("%w: %w: missing upload ID or key", ErrInitiation, ErrInvalidResponse)
	}

	c.logger.Debugf("Upload ID: %s, key: %s", response.UploadID, response.Key)
	return response, nil
}

// GetUploadURLs requests one presigned URL per part. The returned slice has exactly parts
// elements, element i belongs to part number i+1.
func (c *Client) GetUploadURLs(ctx context.Context, key, uploadID string, parts int) ([]string, error) {
	if parts < 1 {
		return nil, fmt.Errorf("%w: part count must be positive, got %d", ErrUploadURLs, parts)
	}

	c.logger.Debugf("Get %d upload URLs", parts)
	request := uploadURLsRequest{
		Key:      key,
		UploadID: uploadID,
		Parts:    parts,
	}
	var response uploadURLsResponse
	if err := c.post(ctx, uploadURLsPath, request, ErrUploadURLs, &response); err != nil {
		return nil, err
	}

	return validateUploadURLs(response.URLs, parts)
}

// Complete commits the uploaded parts and returns the location of the final object.
// The parts are sent sorted by part number and must cover 1..N exactly once.
func (c *Client) Complete(ctx context.Context, key, uploadID string, parts []chunkuploader.CompletedPart) (string, error) {
	sorted, err := sortCompletedParts(parts)
	if err != nil {
		return "", err
	}

	c.logger.Debugf("Complete upload with %d parts", len(sorted))
	request := completeRequest{
		Key:      key,
		UploadID: uploadID,
		Parts:    sorted,
	}
	var response completeResponse
	if err := c.post(ctx, completeUploadPath, request, ErrCompletion, &response); err != nil {
		return "", err
	}
	if response.Location == "" {
		return "", fmt.Errorf("%w: %w: missing location", ErrCompletion, ErrInvalidResponse)
	}

	return response.Location, nil
}

func validateUploadURLs(urls []uploadURL, parts int) ([]string, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no upload URLs returned", ErrInvalidResponse)
	}
	if len(urls) != parts {
		return nil, fmt.Errorf("%w: requested %d upload URLs, got %d", ErrInvalidResponse, parts, len(urls))
	}

	result := make([]string, 0, len(urls))
	for i, u := range urls {
		if !isHTTPURL(u.URL) {
			return nil, fmt.Errorf("%w: upload URL of part %d is not an absolute HTTP(S) URL: %q", ErrInvalidResponse, i+1, u.URL)
		}
		result = append(result, u.URL)
	}

	return result, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func sortCompletedParts(parts []chunkuploader.CompletedPart) ([]chunkuploader.CompletedPart, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no parts", ErrInvalidParts)
	}

	sorted := make([]chunkuploader.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	for i, part := range sorted {
		if part.PartNumber != i+1 {
			return nil, fmt.Errorf("%w: expected part %d, got %d", ErrInvalidParts, i+1, part.PartNumber)
		}
		if part.ETag == "" {
			return nil, fmt.Errorf("%w: part %d has no ETag", ErrInvalidParts, part.PartNumber)
		}
	}

	return sorted, nil
}

func (c *Client) post(ctx context.Context, path string, requestBody interface{}, kind error, out interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}

	resp, err := c.send(ctx, path, body, token)
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.closeBody(resp.Body)
		c.logger.Debugf("Access token rejected, refreshing")

		token, err = c.tokens.Refresh(ctx, token)
		if err != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		resp, err = c.send(ctx, path, body, token)
		if err != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}
	defer c.closeBody(resp.Body)

	return decodeEnvelope(resp, kind, out)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

func (c *Client) send(ctx context.Context, path string, body []byte, token string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	return c.httpClient.Do(req)
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func decodeEnvelope(resp *http.Response, kind error, out interface{}) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", kind, err)
	}

	statusOK := resp.StatusCode >= 200 && resp.StatusCode < 300

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if !statusOK {
			return &BackendError{Kind: kind, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))}
		}
		return fmt.Errorf("%w: %w: decode response: %v", kind, ErrInvalidResponse, err)
	}

	if !env.Success || !statusOK {
		message := env.Message
		if message == "" {
			message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, kind)
		}
		return &BackendError{Kind: kind, StatusCode: resp.StatusCode, Message: message}
	}

	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %w: missing data", kind, ErrInvalidResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %w: decode data: %v", kind, ErrInvalidResponse, err)
	}

	return nil
}
