// Package email wraps the Plunk transactional email HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.useplunk.com/v1"
	defaultHTTPTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when sending is attempted without an API key.
var ErrNotConfigured = errors.New("email service not configured")

// Message is one transactional email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender sends transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client is a Plunk API client implementing Sender.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds Plunk client configuration
type Config struct {
	// APIKey is the Plunk secret key. Empty disables sending; Send then
	// returns ErrNotConfigured.
	APIKey string

	// BaseURL overrides the Plunk API base URL. Intended for tests.
	BaseURL string

	// HTTPClient is an optional HTTP client. If nil, a default client with
	// 10s timeout will be used.
	HTTPClient *http.Client
}

// New creates a new Plunk client
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Send implements Sender
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("plunk API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Noop is a Sender that drops every message. Used when email is disabled.
type Noop struct{}

// Send implements Sender
func (Noop) Send(_ context.Context, _ Message) error { return nil }
