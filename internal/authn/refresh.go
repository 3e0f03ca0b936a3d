package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/idclerk/idclerk/internal/log"
)

// RefreshTimeout bounds a single refresh exchange. A timeout takes the same
// error path as any other transport failure.
const RefreshTimeout = 10 * time.Second

// maxTokenResponseSize limits the token endpoint response body.
const maxTokenResponseSize = 1 << 20 // 1 MB

// Refresher implements the token refresh protocol against the authorization
// server's token endpoint. It is safe for concurrent use.
type Refresher struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       log.Logger
}

// RefresherConfig contains all required parameters for a Refresher.
type RefresherConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client // optional, defaults to a client with RefreshTimeout
	Logger       log.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials are required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: RefreshTimeout}
	}

	return &Refresher{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		logger:       cfg.Logger,
	}, nil
}

// tokenResponse is the authorization server's token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// EnsureValid returns a bundle whose access token is valid at now.
//
// When the bundle has not expired it is returned unchanged with no network
// I/O. Otherwise a single refresh exchange is performed:
//
//   - on success the returned bundle carries the new access token, an
//     absolute expiry of now + expires_in, and the server's refresh token if
//     it rotated one (the prior refresh token otherwise). Claims are carried
//     over unchanged.
//   - on any transport or protocol failure the prior bundle is returned
//     untouched together with ErrRefreshFailed. The exchange is not retried;
//     the caller forces full re-authentication.
//
// The boolean result reports whether a refresh happened.
func (r *Refresher) EnsureValid(ctx context.Context, bundle TokenBundle, now time.Time) (TokenBundle, bool, error) {
	if bundle.Valid(now) {
		return bundle, false, nil
	}

	refreshed, err := r.refresh(ctx, bundle, now)
	if err != nil {
		return bundle, false, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return refreshed, true, nil
}

// refresh performs the credential exchange once.
func (r *Refresher) refresh(ctx context.Context, bundle TokenBundle, now time.Time) (TokenBundle, error) {
	if bundle.RefreshToken == "" {
		return TokenBundle{}, fmt.Errorf("no refresh token in bundle")
	}

	ctx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()

	form := url.Values{
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {bundle.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenBundle{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("token endpoint request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return TokenBundle{}, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Body deliberately omitted from the error: it may echo credentials.
		return TokenBundle{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenBundle{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return TokenBundle{}, fmt.Errorf("token response missing access_token")
	}

	refreshToken := bundle.RefreshToken
	if tr.RefreshToken != "" {
		// Refresh tokens are not guaranteed to rotate; keep the prior one
		// unless the server issued a replacement.
		refreshToken = tr.RefreshToken
	}

	r.logger.Debug("access token refreshed",
		"expires_in_seconds", tr.ExpiresIn,
		"refresh_token_rotated", tr.RefreshToken != "")

	return TokenBundle{
		AccessToken:          tr.AccessToken,
		RefreshToken:         refreshToken,
		AccessTokenExpiresAt: now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		Claims:               bundle.Claims,
	}, nil
}
