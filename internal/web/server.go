package web

import (
	"errors"
	"net/http"

	"github.com/idclerk/idclerk/internal/log"
	"github.com/idclerk/idclerk/internal/session"
	"github.com/idclerk/idclerk/internal/web/handlers"
)

// Config contains all required parameters for the HTTP handler tree.
type Config struct {
	Auth          *handlers.Auth
	Chat          *handlers.Chat
	Conversations *handlers.Conversations
	Sessions      *session.Store
	Refresher     TokenRefresher
	Logger        log.Logger
	CORSOrigins   []string
}

func (cfg Config) validate() error {
	if cfg.Auth == nil {
		return errors.New("auth handler is required")
	}
	if cfg.Chat == nil {
		return errors.New("chat handler is required")
	}
	if cfg.Conversations == nil {
		return errors.New("conversations handler is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Refresher == nil {
		return errors.New("refresher is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// New builds the routed handler tree with middleware applied.
func New(cfg Config) (http.Handler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Health)

	mux.HandleFunc("GET /auth/login", cfg.Auth.Login)
	mux.HandleFunc("GET /auth/callback", cfg.Auth.Callback)
	mux.HandleFunc("POST /auth/logout", cfg.Auth.Logout)

	requireSession := RequireSession(cfg.Sessions, cfg.Refresher, cfg.Logger)
	mux.Handle("POST /api/chat", requireSession(cfg.Chat))
	mux.Handle("GET /api/conversations", requireSession(http.HandlerFunc(cfg.Conversations.List)))
	mux.Handle("GET /api/conversations/{id}/messages", requireSession(http.HandlerFunc(cfg.Conversations.Messages)))
	mux.Handle("DELETE /api/conversations/{id}", requireSession(http.HandlerFunc(cfg.Conversations.Delete)))

	var handler http.Handler = mux
	handler = CORS(cfg.CORSOrigins)(handler)
	handler = Logging(cfg.Logger)(handler)
	handler = Recovery(cfg.Logger)(handler)

	return handler, nil
}
