package authn

import "context"

// contextKey is a private type to avoid collisions in context values.
type contextKey int

const (
	accessTokenKey contextKey = iota
	claimsKey
)

// WithAccessToken returns a context carrying the bearer credential for
// downstream governance API calls.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey, token)
}

// AccessTokenFromContext extracts the bearer credential placed by the
// session middleware. ok is false when the request is unauthenticated.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey).(string)
	return token, ok && token != ""
}

// WithClaims returns a context carrying the session's identity claims.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext extracts the session's identity claims.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}
