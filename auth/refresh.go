package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const refreshPath = "/api/auth/refresh-token"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// HTTPRefresher calls the API's refresh endpoint.
type HTTPRefresher struct {
	httpClient *retryablehttp.Client
	baseURL    string
	logger     log.Logger
}

// NewHTTPRefresher ...
func NewHTTPRefresher(client *retryablehttp.Client, baseURL string, logger log.Logger) *HTTPRefresher {
	return &HTTPRefresher{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// Refresh ...
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return TokenPair{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+refreshPath, body)
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			r.logger.Printf(err.Error())
		}
	}(resp.Body)

	var response refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return TokenPair{}, fmt.Errorf("HTTP %d: decode refresh response: %w", resp.StatusCode, err)
	}
	if !response.Success || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if response.Message != "" {
			return TokenPair{}, fmt.Errorf("%s", response.Message)
		}
		return TokenPair{}, fmt.Errorf("HTTP %d: refresh rejected", resp.StatusCode)
	}
	if response.Data.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("refresh response has no access token")
	}

	return TokenPair{
		AccessToken:  response.Data.AccessToken,
		RefreshToken: response.Data.RefreshToken,
	}, nil
}
