// Package app wires the application together: configuration, logging,
// database, Genkit, the governance client, tools and the agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idclerk/idclerk/db"
	"github.com/idclerk/idclerk/internal/agent"
	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/config"
	"github.com/idclerk/idclerk/internal/history"
	"github.com/idclerk/idclerk/internal/isc"
	"github.com/idclerk/idclerk/internal/log"
	"github.com/idclerk/idclerk/internal/session"
	"github.com/idclerk/idclerk/internal/tools"
)

// App is the application container. Call Close to release resources.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit        *genkit.Genkit
	DBPool        *pgxpool.Pool
	Sessions      *session.Store
	Conversations *history.Store
	Provider      *authn.Provider
	Refresher     *authn.Refresher
	Governance    *isc.Client
	Tools         []ai.Tool
	Agent         *agent.Agent
}

// Setup creates and initializes the application.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Conversations, err = history.NewStore(history.NewQueries(pool), pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}

	a.Genkit, err = provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Provider, err = authn.NewProvider(authn.ProviderConfig{
		BaseURL:      cfg.ISCBaseURL,
		APIURL:       cfg.ISCAPIURL,
		ClientID:     cfg.ISCClientID,
		ClientSecret: cfg.ISCClientSecret,
		Scope:        cfg.ISCScope,
		RedirectURL:  cfg.RedirectURL,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth provider: %w", err)
	}

	a.Refresher, err = authn.NewRefresher(authn.RefresherConfig{
		TokenURL:     a.Provider.TokenURL(),
		ClientID:     cfg.ISCClientID,
		ClientSecret: cfg.ISCClientSecret,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating refresher: %w", err)
	}

	a.Governance, err = isc.NewClient(isc.Config{
		APIURL: cfg.ISCAPIURL,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating governance client: %w", err)
	}

	toolset, err := tools.NewToolset(a.Governance, logger)
	if err != nil {
		return nil, fmt.Errorf("creating toolset: %w", err)
	}
	a.Tools = tools.Register(a.Genkit, toolset)

	a.Agent, err = agent.New(agent.Config{
		Genkit:   a.Genkit,
		Logger:   logger,
		Tools:    a.Tools,
		Model:    cfg.FullModelName(),
		MaxTurns: cfg.MaxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	a.Sessions = session.NewStore()

	return a, nil
}

// Close releases application resources.
func (a *App) Close() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}

// provideGenkit initializes Genkit with the configured model provider. The
// provider plugins read their API keys from the environment.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	}
	if g == nil {
		return nil, fmt.Errorf("initializing genkit with provider %q", cfg.Provider)
	}
	return g, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresDSN()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
