// Package isc is a thin client for the identity-governance REST API.
//
// It covers the four operations the chat tools consume: identity search,
// requestable-object listing, access-request creation, and access-request
// status. The bearer token is supplied per call by the session middleware;
// the client itself holds no credentials.
package isc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/idclerk/idclerk/internal/log"
)

// requestTimeout bounds each governance API call.
const requestTimeout = 30 * time.Second

// maxResponseSize limits API response bodies.
const maxResponseSize = 10 << 20 // 10 MB

// APIError reports a non-2xx response from the governance API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("governance API returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls the governance API. Safe for concurrent use.
type Client struct {
	apiURL string
	client *http.Client
	logger log.Logger
}

// Config contains all required parameters for a Client.
type Config struct {
	APIURL     string
	HTTPClient *http.Client // optional
	Logger     log.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("API URL is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		apiURL: cfg.APIURL,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// do issues one authenticated request and returns the raw response.
// The caller owns the response body.
func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// decode consumes the response body, mapping non-2xx statuses to *APIError.
func decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
