// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.idclerk/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider and model for the completion engine
//   - Governance: Identity Secure Cloud endpoints and OAuth client credentials
//   - Storage: PostgreSQL connection for conversation history
//   - Server: listen address and CORS origins
//
// Security: client secret and database password are masked in MarshalJSON
// and never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingISCBaseURL indicates the governance tenant base URL is not set.
	ErrMissingISCBaseURL = errors.New("missing ISC base URL")

	// ErrMissingISCAPIURL indicates the governance API URL is not set.
	ErrMissingISCAPIURL = errors.New("missing ISC API URL")

	// ErrMissingClientCredentials indicates the OAuth client id or secret is not set.
	ErrMissingClientCredentials = errors.New("missing OAuth client credentials")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxTurns indicates the max turns value is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidListenAddr indicates the server listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

// DefaultScope is the OAuth scope requested from the governance tenant.
const DefaultScope = "sp:scopes:all"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`
	ModelName string `mapstructure:"model_name" json:"model_name"`
	MaxTurns  int    `mapstructure:"max_turns" json:"max_turns"`

	// Identity Secure Cloud tenant configuration
	ISCBaseURL      string `mapstructure:"isc_base_url" json:"isc_base_url"`
	ISCAPIURL       string `mapstructure:"isc_api_url" json:"isc_api_url"`
	ISCClientID     string `mapstructure:"isc_client_id" json:"isc_client_id"`
	ISCClientSecret string `mapstructure:"isc_client_secret" json:"isc_client_secret"` // SENSITIVE: masked in MarshalJSON
	ISCScope        string `mapstructure:"isc_scope" json:"isc_scope"`

	// OAuth redirect URL of this server (the /auth/callback endpoint)
	RedirectURL string `mapstructure:"redirect_url" json:"redirect_url"`

	// Server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Storage configuration for conversation history
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".idclerk")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGoogleAI)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("max_turns", 5)

	viper.SetDefault("isc_scope", DefaultScope)
	viper.SetDefault("redirect_url", "http://localhost:8080/auth/callback")

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "idclerk")
	viper.SetDefault("postgres_password", "idclerk_dev_password")
	viper.SetDefault("postgres_db_name", "idclerk")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets only come in via the environment, never from defaults worth keeping.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("isc_base_url", "ISC_BASE_URL")
	mustBind("isc_api_url", "ISC_BASE_API_URL")
	mustBind("isc_client_id", "ISC_CLIENT_ID")
	mustBind("isc_client_secret", "ISC_CLIENT_SECRET")
	mustBind("isc_scope", "ISC_SCOPE")

	mustBind("redirect_url", "IDCLERK_REDIRECT_URL")
	mustBind("listen_addr", "IDCLERK_LISTEN_ADDR")
	mustBind("cors_origins", "IDCLERK_CORS_ORIGINS")

	mustBind("provider", "IDCLERK_PROVIDER")
	mustBind("model_name", "IDCLERK_MODEL_NAME")

	mustBind("postgres_password", "IDCLERK_POSTGRES_PASSWORD")

	// NOTE: GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit
	// plugins, not via Viper.
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.ISCClientSecret = maskSecret(a.ISCClientSecret)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// PostgresDSN builds the connection string for pgx.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}
