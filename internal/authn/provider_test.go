package authn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idclerk/idclerk/internal/log"
)

// fakeTenant serves the token and userinfo endpoints of a governance tenant.
func fakeTenant(t *testing.T, userinfoStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  signedTestToken(t),
			"token_type":    "bearer",
			"expires_in":    1800,
			"refresh_token": "refresh-abc",
		})
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if userinfoStatus != http.StatusOK {
			w.WriteHeader(userinfoStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant":       "acme",
			"id":           "id-123",
			"uid":          "alice.adams",
			"email":        "alice@example.com",
			"firstname":    "Alice",
			"lastname":     "Adams",
			"capabilities": []string{"ORG_ADMIN"},
			"displayName":  "Alice Adams",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// signedTestToken builds an HS256 access token carrying governance claims.
// The provider only decodes claims, it never verifies the signature.
func signedTestToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"org":         "acme",
		"identity_id": "id-123",
		"user_name":   "alice.adams",
		"authorities": []string{"ORG_ADMIN"},
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := NewProvider(ProviderConfig{
		BaseURL:      srv.URL,
		APIURL:       srv.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scope:        "sp:scopes:all",
		RedirectURL:  "http://localhost:8080/auth/callback",
		Logger:       log.NewNop(),
	})
	require.NoError(t, err)
	return p
}

func TestProvider_AuthCodeURL(t *testing.T) {
	t.Parallel()

	srv := fakeTenant(t, http.StatusOK)
	p := newTestProvider(t, srv)

	u := p.AuthCodeURL("state-xyz")

	assert.Contains(t, u, "/oauth/authorize")
	assert.Contains(t, u, "state=state-xyz")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "scope=sp%3Ascopes%3Aall")
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()

	t.Run("claims from userinfo", func(t *testing.T) {
		t.Parallel()
		srv := fakeTenant(t, http.StatusOK)
		p := newTestProvider(t, srv)

		bundle, err := p.Exchange(context.Background(), "auth-code")
		require.NoError(t, err)

		assert.NotEmpty(t, bundle.AccessToken)
		assert.Equal(t, "refresh-abc", bundle.RefreshToken)
		assert.True(t, bundle.AccessTokenExpiresAt.After(time.Now()),
			"expiry must be absolute and in the future")
		assert.Equal(t, "acme", bundle.Claims.Tenant)
		assert.Equal(t, "id-123", bundle.Claims.ID)
		assert.Equal(t, "Alice Adams", bundle.Claims.DisplayName)
		assert.Equal(t, "alice@example.com", bundle.Claims.Email)
		assert.Equal(t, []string{"ORG_ADMIN"}, bundle.Claims.Capabilities)
	})

	t.Run("claims fall back to access token when userinfo fails", func(t *testing.T) {
		t.Parallel()
		srv := fakeTenant(t, http.StatusInternalServerError)
		p := newTestProvider(t, srv)

		bundle, err := p.Exchange(context.Background(), "auth-code")
		require.NoError(t, err)

		assert.Equal(t, "acme", bundle.Claims.Tenant)
		assert.Equal(t, "id-123", bundle.Claims.ID)
		assert.Equal(t, "alice.adams", bundle.Claims.UID)
		assert.Equal(t, []string{"ORG_ADMIN"}, bundle.Claims.Capabilities)
	})
}

func TestDecodeTokenClaims_Malformed(t *testing.T) {
	t.Parallel()

	_, err := decodeTokenClaims("not-a-jwt")
	assert.Error(t, err)
}

func TestNewProvider_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(ProviderConfig{Logger: log.NewNop()})
	assert.Error(t, err)

	_, err = NewProvider(ProviderConfig{
		BaseURL: "http://x", APIURL: "http://x",
		ClientID: "a", ClientSecret: "b",
	})
	assert.Error(t, err, "logger is required")
}
