package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/neurobridge/assessment-session/internal/clock"
)

var ErrNoRefreshToken = errors.New("no refresh token available")

// TokenSource supplies the bearer token attached to backend requests.
// An empty token sends the request unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Refresher is implemented by token sources that can obtain a new access
// token after the backend rejected the current one.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// RefreshingTokenSource exchanges a refresh token for access tokens at
// /auth/token/refresh/. Access tokens whose exp claim falls within the skew
// window are refreshed before use.
type RefreshingTokenSource struct {
	mu          sync.Mutex
	access      string
	refresh     string
	refreshURL  string
	httpClient  *http.Client
	skew        time.Duration
	clock       clock.Clock
	onRefreshed func(access, refresh string)
}

type RefreshOption func(*RefreshingTokenSource)

func WithSkew(skew time.Duration) RefreshOption {
	return func(s *RefreshingTokenSource) { s.skew = skew }
}

func WithRefreshClock(c clock.Clock) RefreshOption {
	return func(s *RefreshingTokenSource) { s.clock = c }
}

func WithRefreshHTTPClient(c *http.Client) RefreshOption {
	return func(s *RefreshingTokenSource) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// OnRefreshed registers a callback invoked with every newly issued token pair.
func OnRefreshed(fn func(access, refresh string)) RefreshOption {
	return func(s *RefreshingTokenSource) { s.onRefreshed = fn }
}

func NewRefreshingTokenSource(baseURL, accessToken, refreshToken string, opts ...RefreshOption) *RefreshingTokenSource {
	s := &RefreshingTokenSource{
		access:     accessToken,
		refresh:    refreshToken,
		refreshURL: baseURL + "/auth/token/refresh/",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		skew:       30 * time.Second,
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	access := s.access
	s.mu.Unlock()

	if access != "" && !s.expiresSoon(access) {
		return access, nil
	}
	return s.Refresh(ctx)
}

// expiresSoon reads exp without verifying the signature; the backend
// remains the authority on validity.
func (s *RefreshingTokenSource) expiresSoon(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.clock.Now().Add(s.skew).Before(exp.Time)
}

func (s *RefreshingTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refresh == "" {
		return "", ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refresh": s.refresh})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token refresh failed: %w", decodeAPIError(resp))
	}

	var tokens struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if tokens.Access == "" {
		return "", errors.New("token refresh returned no access token")
	}

	s.access = tokens.Access
	if tokens.Refresh != "" {
		s.refresh = tokens.Refresh
	}
	if s.onRefreshed != nil {
		s.onRefreshed(s.access, s.refresh)
	}
	return s.access, nil
}
