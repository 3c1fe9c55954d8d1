package billing

import "net/http"

// Config defines the standard configuration all providers should accept
type Config struct {
	// Store is the persistence layer updated during reconciliation.
	Store Store

	// WebhookSecret is used to verify incoming webhook requests.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// FrontendURL is the base URL for checkout success/cancel redirects.
	// Defaults to http://localhost:3000 when empty.
	FrontendURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Deduper is an optional processed-event-ID tracker. When set, redelivered
	// events are acknowledged without re-running reconciliation.
	Deduper EventDeduper

	// Logger is an optional structured logger. If nil, logging is a no-op.
	Logger Logger

	// Metrics is an optional metrics collector for tracking billing provider
	// operations. If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus.
	Metrics Metrics
}
