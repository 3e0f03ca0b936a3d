// Package handlers contains the HTTP handlers of the chat backend.
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/log"
	"github.com/idclerk/idclerk/internal/session"
)

// Cookie names.
const (
	SessionCookie = "idclerk_session"
	stateCookie   = "idclerk_oauth_state"
)

// stateTTL bounds how long a login attempt may take.
const stateTTL = 10 * time.Minute

// AuthProvider is the slice of the OAuth provider the auth handlers consume.
type AuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (authn.TokenBundle, error)
}

// Auth handles login, callback and logout.
type Auth struct {
	provider      AuthProvider
	sessions      *session.Store
	logger        log.Logger
	secureCookies bool
	postLoginURL  string
}

// AuthConfig contains all required parameters for Auth.
type AuthConfig struct {
	Provider      AuthProvider
	Sessions      *session.Store
	Logger        log.Logger
	SecureCookies bool
	PostLoginURL  string // where the callback redirects after login, "/" when empty
}

// NewAuth creates an Auth handler.
func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.Provider == nil {
		return nil, errors.New("auth provider is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	postLoginURL := cfg.PostLoginURL
	if postLoginURL == "" {
		postLoginURL = "/"
	}

	return &Auth{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		logger:        cfg.Logger,
		secureCookies: cfg.SecureCookies,
		postLoginURL:  postLoginURL,
	}, nil
}

// Login starts the authorization-code flow: it binds a random state value to
// the browser via a short-lived cookie and redirects to the tenant.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		a.logger.Error("generating login state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the flow: it checks the state cookie against the query
// parameter, exchanges the code and creates a session.
func (a *Auth) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		a.logger.Warn("oauth state mismatch", "error", authn.ErrStateMismatch)
		writeError(w, http.StatusBadRequest, "state_mismatch", "login state did not match")
		return
	}
	a.clearCookie(w, stateCookie)

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "authorization code is missing")
		return
	}

	bundle, err := a.provider.Exchange(r.Context(), code)
	if err != nil {
		a.logger.Error("code exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "exchange_failed", "could not complete login")
		return
	}

	id := a.sessions.Create(bundle)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	a.logger.Info("login completed",
		"tenant", bundle.Claims.Tenant,
		"identity_id", bundle.Claims.ID,
	)
	http.Redirect(w, r, a.postLoginURL, http.StatusFound)
}

// Logout destroys the session. Destroying an unknown or absent session is
// not an error.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		a.sessions.Destroy(cookie.Value)
	}
	a.clearCookie(w, SessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Auth) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
