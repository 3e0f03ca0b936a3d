package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/idclerk/idclerk/internal/app"
	"github.com/idclerk/idclerk/internal/config"
	"github.com/idclerk/idclerk/internal/log"
	"github.com/idclerk/idclerk/internal/web"
	"github.com/idclerk/idclerk/internal/web/handlers"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs a long write window
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat backend HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := newLogger()
	logger.Info("starting idclerk", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	handler, err := buildHandler(a)
	if err != nil {
		return fmt.Errorf("building handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready", "addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving HTTP: %w", err)
	}
}

// buildHandler assembles the HTTP handler tree from application components.
func buildHandler(a *app.App) (http.Handler, error) {
	cfg := a.Config

	secureCookies := strings.HasPrefix(cfg.RedirectURL, "https://")
	postLoginURL := "/"
	if len(cfg.CORSOrigins) > 0 {
		postLoginURL = cfg.CORSOrigins[0]
	}

	auth, err := handlers.NewAuth(handlers.AuthConfig{
		Provider:      a.Provider,
		Sessions:      a.Sessions,
		Logger:        a.Logger,
		SecureCookies: secureCookies,
		PostLoginURL:  postLoginURL,
	})
	if err != nil {
		return nil, err
	}

	chat, err := handlers.NewChat(handlers.ChatConfig{
		Engine:        a.Agent,
		Conversations: a.Conversations,
		Logger:        a.Logger,
	})
	if err != nil {
		return nil, err
	}

	conversations, err := handlers.NewConversations(a.Conversations, a.Logger)
	if err != nil {
		return nil, err
	}

	return web.New(web.Config{
		Auth:          auth,
		Chat:          chat,
		Conversations: conversations,
		Sessions:      a.Sessions,
		Refresher:     a.Refresher,
		Logger:        a.Logger,
		CORSOrigins:   cfg.CORSOrigins,
	})
}

// newLogger builds the process logger from environment toggles.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("IDCLERK_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("IDCLERK_LOG_JSON") != "",
	})
}
