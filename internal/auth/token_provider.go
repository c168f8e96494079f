// Package auth provides the access-token source the dispatcher attaches to
// outgoing requests, including the single refresh-and-retry path used after
// an Unauthorized response.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
)

// TokenProvider exposes the bearer token for dispatch and a refresh hook
// invoked once after an Unauthorized response.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	TryRefresh(ctx context.Context) error
}

// HTTPTokenProvider holds an access token and refreshes it against the
// backend's refresh endpoint. Safe for concurrent use.
type HTTPTokenProvider struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string

	baseURL    string
	httpClient *http.Client
}

// NewHTTPTokenProvider creates a token provider bound to the backend base URL.
func NewHTTPTokenProvider(baseURL, accessToken, refreshToken string, httpClient *http.Client) *HTTPTokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTokenProvider{
		accessToken:  accessToken,
		refreshToken: refreshToken,
		baseURL:      baseURL,
		httpClient:   httpClient,
	}
}

// AccessToken returns the current bearer token.
func (p *HTTPTokenProvider) AccessToken(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.accessToken == "" {
		return "", apperrors.Wrap(apperrors.ErrUnauthorized, "no access token configured")
	}
	return p.accessToken, nil
}

// TryRefresh exchanges the refresh token for a new access token. It fails
// with ErrUnauthorized when no refresh token is configured or the backend
// rejects it; the engine then treats the operation's Unauthorized as
// permanent.
func (p *HTTPTokenProvider) TryRefresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refreshToken == "" {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "no refresh token configured")
	}

	body, err := json.Marshal(map[string]string{"refresh_token": p.refreshToken})
	if err != nil {
		return apperrors.Wrap(err, "failed to encode refresh request")
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/v1/auth/refresh", p.baseURL),
		bytes.NewReader(body),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return apperrors.Wrapf(apperrors.ErrUnauthorized, "refresh rejected with status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(err, "failed to read refresh response")
	}

	var parsed struct {
		Data struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return apperrors.Wrap(err, "failed to decode refresh response")
	}
	if parsed.Data.AccessToken == "" {
		return apperrors.Wrap(apperrors.ErrUnauthorized, "refresh response missing access token")
	}

	p.accessToken = parsed.Data.AccessToken
	if parsed.Data.RefreshToken != "" {
		p.refreshToken = parsed.Data.RefreshToken
	}
	return nil
}

// StaticTokenProvider returns a fixed token and cannot refresh. Used in
// tests and tooling.
type StaticTokenProvider struct {
	Token string
}

// AccessToken returns the fixed token.
func (p *StaticTokenProvider) AccessToken(_ context.Context) (string, error) {
	if p.Token == "" {
		return "", apperrors.Wrap(apperrors.ErrUnauthorized, "no access token configured")
	}
	return p.Token, nil
}

// TryRefresh always fails: there is nothing to refresh.
func (p *StaticTokenProvider) TryRefresh(_ context.Context) error {
	return apperrors.Wrap(apperrors.ErrUnauthorized, "static token cannot be refreshed")
}
