package authn

import "errors"

// Sentinel errors for the authentication lifecycle.
// These are part of the package's public API; check with errors.Is().
var (
	// ErrUnauthenticated indicates no session is present for the request.
	// The caller must reject the request; there is nothing to retry.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRefreshFailed indicates the refresh-token exchange failed.
	// The prior bundle is left untouched and the caller must force a full
	// re-authentication. The exchange is never retried automatically.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrStateMismatch indicates the OAuth state returned by the authorization
	// server does not match the value issued at login.
	ErrStateMismatch = errors.New("oauth state mismatch")
)
