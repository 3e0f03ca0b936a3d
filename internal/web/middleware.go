// Package web assembles the HTTP surface: routing, middleware and the
// session gate in front of the API handlers.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/log"
	"github.com/idclerk/idclerk/internal/session"
	"github.com/idclerk/idclerk/internal/web/handlers"
)

// TokenRefresher keeps a token bundle usable. *authn.Refresher implements it.
type TokenRefresher interface {
	EnsureValid(ctx context.Context, bundle authn.TokenBundle, now time.Time) (authn.TokenBundle, bool, error)
}

// RequireSession resolves the session cookie, refreshes the access token
// when it is about to expire, and threads token and claims through the
// request context. Requests without a usable session get 401; a failed
// refresh destroys the session so the client logs in again.
func RequireSession(sessions *session.Store, refresher TokenRefresher, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(handlers.SessionCookie)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			bundle, ok := sessions.Read(cookie.Value)
			if !ok {
				unauthorized(w)
				return
			}

			bundle, refreshed, err := refresher.EnsureValid(r.Context(), bundle, time.Now())
			if err != nil {
				logger.Warn("session refresh failed, destroying session",
					"identity_id", bundle.Claims.ID, "error", err)
				sessions.Destroy(cookie.Value)
				unauthorized(w)
				return
			}
			if refreshed {
				if err := sessions.Update(cookie.Value, bundle); err != nil {
					// Session vanished mid-request (concurrent logout).
					unauthorized(w)
					return
				}
			}

			ctx := authn.WithAccessToken(r.Context(), bundle.AccessToken)
			ctx = authn.WithClaims(ctx, bundle.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthenticated","message":"session required"}}`))
}

// loggingWriter wraps http.ResponseWriter to capture status and size. It
// implements Flusher so SSE keeps working through the middleware.
type loggingWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (w *loggingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *loggingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Logging logs request details including latency, status and response size.
func Logging(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &loggingWriter{ResponseWriter: w}

			next.ServeHTTP(wrapper, r)

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapper.statusCode,
				"bytes", wrapper.bytesWritten,
				"duration", time.Since(start),
				"ip", r.RemoteAddr,
			)
		})
	}
}

// Recovery turns panics into 500 responses instead of crashing the server.
func Recovery(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &loggingWriter{ResponseWriter: w}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"headers_sent", wrapper.statusCode != 0,
					)
					if wrapper.statusCode == 0 {
						http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

// CORS allows the configured browser origins to call the API with
// credentials. An empty allow list disables cross-origin access.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Vary", "Origin")

				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
