package billing

import "net/http"

// Provider is the generic interface a payment backend must implement.
// Keeping the surface to plain http.Handlers lets the application mount the
// endpoints under any router.
type Provider interface {
	// Name returns the provider name (e.g. "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that verifies, routes, and
	// reconciles provider webhook events. Validation, parsing, and Store
	// updates happen internally.
	WebhookHandler() http.Handler

	// CheckoutHandler returns the HTTP handler that creates checkout sessions
	// for subscription and one-time purchases.
	CheckoutHandler() http.Handler
}
