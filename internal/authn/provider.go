package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/idclerk/idclerk/internal/log"
)

// profileTimeout bounds the userinfo fetch during login.
const profileTimeout = 10 * time.Second

// Provider handles the delegated-authorization code flow against the
// governance tenant and decodes identity claims at first login.
type Provider struct {
	oauth  *oauth2.Config
	apiURL string
	client *http.Client
	logger log.Logger
}

// ProviderConfig contains all required parameters for a Provider.
type ProviderConfig struct {
	BaseURL      string // tenant UI base, hosts /oauth/authorize
	APIURL       string // API base, hosts /oauth/token and /oauth/userinfo
	ClientID     string
	ClientSecret string
	Scope        string
	RedirectURL  string
	HTTPClient   *http.Client // optional
	Logger       log.Logger
}

// NewProvider creates a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.BaseURL == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("base URL and API URL are required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials are required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: profileTimeout}
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{cfg.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.BaseURL + "/oauth/authorize",
				TokenURL: cfg.APIURL + "/oauth/token",
			},
		},
		apiURL: cfg.APIURL,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// TokenURL returns the authorization server's token endpoint.
// The Refresher reuses it for the refresh exchange.
func (p *Provider) TokenURL() string {
	return p.oauth.Endpoint.TokenURL
}

// AuthCodeURL builds the authorize redirect URL carrying the given state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange performs the authorization-code exchange and assembles the
// session's TokenBundle. Identity claims come from the userinfo endpoint;
// if that fails, the access token's own claims are used as a fallback
// (governance access tokens embed tenant and capabilities).
func (p *Provider) Exchange(ctx context.Context, code string) (TokenBundle, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("authorization code exchange: %w", err)
	}

	claims, err := p.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		p.logger.Warn("userinfo fetch failed, decoding claims from access token", "error", err)
		claims, err = decodeTokenClaims(tok.AccessToken)
		if err != nil {
			return TokenBundle{}, fmt.Errorf("resolving identity claims: %w", err)
		}
	}

	return TokenBundle{
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		AccessTokenExpiresAt: tok.Expiry, // absolute; oauth2 converts expires_in
		Claims:               claims,
	}, nil
}

// profile is the userinfo endpoint's payload.
type profile struct {
	Tenant       string   `json:"tenant"`
	ID           string   `json:"id"`
	UID          string   `json:"uid"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone"`
	WorkPhone    string   `json:"workPhone"`
	Firstname    string   `json:"firstname"`
	Lastname     string   `json:"lastname"`
	Capabilities []string `json:"capabilities"`
	DisplayName  string   `json:"displayName"`
}

// FetchProfile retrieves the identity profile for the given access token.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/oauth/userinfo", nil)
	if err != nil {
		return Claims{}, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return Claims{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Claims{}, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return Claims{}, fmt.Errorf("reading userinfo response: %w", err)
	}

	var pr profile
	if err := json.Unmarshal(body, &pr); err != nil {
		return Claims{}, fmt.Errorf("decoding userinfo response: %w", err)
	}

	return Claims{
		ID:           pr.ID,
		Tenant:       pr.Tenant,
		UID:          pr.UID,
		DisplayName:  pr.DisplayName,
		Email:        pr.Email,
		Capabilities: pr.Capabilities,
	}, nil
}

// accessTokenClaims are the governance claims embedded in the access token.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Tenant      string   `json:"org"`
	IdentityID  string   `json:"identity_id"`
	UserName    string   `json:"user_name"`
	Authorities []string `json:"authorities"`
}

// decodeTokenClaims extracts identity claims from the access token without
// signature verification. The token was just issued to us over TLS by the
// authorization server, so this is a claim decode, not an authentication step.
func decodeTokenClaims(accessToken string) (Claims, error) {
	var claims accessTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return Claims{}, fmt.Errorf("parsing access token claims: %w", err)
	}

	return Claims{
		ID:           claims.IdentityID,
		Tenant:       claims.Tenant,
		UID:          claims.UserName,
		DisplayName:  claims.UserName,
		Capabilities: claims.Authorities,
	}, nil
}
