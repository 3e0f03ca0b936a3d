// Package authn implements the authentication session lifecycle against an
// identity-governance tenant: authorization-code login, identity claims, and
// the refresh-before-expiry protocol that gates every tool call.
package authn

import "time"

// Claims holds the identity attributes decoded once at first login.
// They are carried unchanged through token refreshes.
type Claims struct {
	ID           string   `json:"id"`
	Tenant       string   `json:"tenant"`
	UID          string   `json:"uid"`
	DisplayName  string   `json:"displayName"`
	Email        string   `json:"email"`
	Capabilities []string `json:"capabilities"`
}

// TokenBundle represents one authenticated session's credentials.
//
// AccessTokenExpiresAt is always an absolute instant, never a relative
// "expires_in"; ingestion converts. Bundles are passed and stored by value
// so concurrent readers can never observe a partial update.
type TokenBundle struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	Claims               Claims    `json:"claims"`
}

// Valid reports whether the access token is still usable at the given
// instant. A zero expiry is treated as expired, so a bundle minted with a
// missing or already-past expiry still goes through refresh on first use.
func (b TokenBundle) Valid(now time.Time) bool {
	return now.Before(b.AccessTokenExpiresAt)
}
