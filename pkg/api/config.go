package api

import (
	"fmt"
	"net/http"

	"github.com/titanstack/titan-billing/pkg/billing"
	"github.com/titanstack/titan-billing/pkg/email"
)

// Config holds configuration for the account API handler
type Config struct {
	// Store is the billing store (required)
	Store billing.Store

	// Email sends transactional email. If nil, waitlist signups are
	// recorded without a welcome email.
	Email email.Sender

	// PaymentsEnabled gates the subscription authorization check. When
	// false every user is authorized, matching deployments that run
	// without billing.
	PaymentsEnabled bool

	// GetUserID extracts the user ID from an authorization-check request
	// (required). Routers with path parameters plug their extractor here.
	GetUserID func(*http.Request) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional structured logging for API operations
	// If nil, logging is not performed
	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new account API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Email == nil {
		config.Email = email.Noop{}
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromQuery returns a GetUserID function that extracts user ID from a query
// parameter
func FromQuery(param string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}
