package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for the serve command (fail-fast).
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 25 {
		return fmt.Errorf("%w: %d (must be 1-25)", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if err := validateURL(c.ISCBaseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingISCBaseURL, err)
	}
	if err := validateURL(c.ISCAPIURL); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingISCAPIURL, err)
	}
	if strings.TrimSpace(c.ISCClientID) == "" || strings.TrimSpace(c.ISCClientSecret) == "" {
		return ErrMissingClientCredentials
	}

	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrInvalidListenAddr
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	return nil
}

// validateURL checks that s is a non-empty absolute http(s) URL.
func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("empty URL")
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
