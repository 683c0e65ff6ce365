// Package auth keeps the API access token of the upload client fresh.
//
// A Manager is shared by every API call of a process. Concurrent callers that need a new
// access token join the refresh already in flight instead of starting their own.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/golang-jwt/jwt/v5"
)

const defaultExpiryLeeway = 30 * time.Second

var (
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshFailed wraps errors of the Refresher.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// TokenPair ...
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// refreshCall is the shared result of one refresh. done is closed once token/err are set.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Manager stores the current token pair. It is either idle or refreshing; while refreshing,
// inflight holds the call every waiter subscribes to.
type Manager struct {
	mu       sync.Mutex
	tokens   TokenPair
	inflight *refreshCall

	refresher    Refresher
	expiryLeeway time.Duration
	now          func() time.Time
	logger       log.Logger
}

// NewManager ...
func NewManager(tokens TokenPair, refresher Refresher, logger log.Logger) *Manager {
	return &Manager{
		tokens:       tokens,
		refresher:    refresher,
		expiryLeeway: defaultExpiryLeeway,
		now:          time.Now,
		logger:       logger,
	}
}

// Token returns the current access token. An access token that is a JWT expiring within
// the leeway is refreshed first. Opaque tokens are returned as they are; the API's 401
// response triggers their refresh.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	current := m.tokens.AccessToken
	m.mu.Unlock()

	if current != "" && !m.expiresSoon(current) {
		return current, nil
	}

	return m.Refresh(ctx, current)
}

// Refresh returns an access token newer than stale. If another caller already replaced
// stale, the current token is returned without calling the Refresher.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	if m.tokens.AccessToken != "" && m.tokens.AccessToken != stale {
		token := m.tokens.AccessToken
		m.mu.Unlock()
		return token, nil
	}

	call := m.inflight
	if call == nil {
		if m.tokens.RefreshToken == "" {
			m.mu.Unlock()
			return "", ErrNoRefreshToken
		}

		call = &refreshCall{done: make(chan struct{})}
		m.inflight = call
		refreshToken := m.tokens.RefreshToken

		// The refresh outlives the caller that started it, other waiters depend on it.
		go m.doRefresh(context.WithoutCancel(ctx), call, refreshToken)
	} else {
		m.logger.Debugf("Token refresh already in progress, waiting for it")
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.token, call.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context, call *refreshCall, refreshToken string) {
	m.logger.Debugf("Refreshing access token")
	tokens, err := m.refresher.Refresh(ctx, refreshToken)

	m.mu.Lock()
	if err != nil {
		call.err = fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	} else {
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refreshToken
		}
		m.tokens = tokens
		call.token = tokens.AccessToken
	}
	m.inflight = nil
	m.mu.Unlock()

	close(call.done)
}

// SetTokens replaces the stored token pair, e.g. after a login.
func (m *Manager) SetTokens(tokens TokenPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
}

// Clear forgets the stored tokens.
func (m *Manager) Clear() {
	m.SetTokens(TokenPair{})
}

// Refreshing reports whether a refresh is in flight.
func (m *Manager) Refreshing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight != nil
}

func (m *Manager) expiresSoon(token string) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return !m.now().Add(m.expiryLeeway).Before(exp)
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// ok is false for tokens that are not JWTs or have no exp claim.
func ExpiresAt(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
