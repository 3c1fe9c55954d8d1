package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is missing its API
	// key or other required configuration
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrWebhookSecretMissing is returned when the webhook endpoint secret is
	// not configured. This is a deployment bug, surfaced as a 500.
	ErrWebhookSecretMissing = errors.New("webhook secret not configured")

	// ErrMissingSignature is returned when the signature header is absent.
	// This is a caller error, surfaced as a 400.
	ErrMissingSignature = errors.New("missing signature header")

	// ErrCustomerEmailUnavailable is returned when the customer email cannot
	// be resolved from the provider. Email is required for downstream joins,
	// so the whole event fails.
	ErrCustomerEmailUnavailable = errors.New("customer email could not be fetched")

	// ErrSubscriptionNotFound is returned when no subscription row matches
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUserNotFound is returned when no user row matches
	ErrUserNotFound = errors.New("user not found")

	// ErrInvoiceLinkFailed marks the invoice-linking sub-step of checkout
	// completion, so operators can tell it apart from a user-link failure.
	ErrInvoiceLinkFailed = errors.New("error updating invoice")

	// ErrUserLinkFailed marks the user-linking sub-step of checkout completion
	ErrUserLinkFailed = errors.New("error updating user subscription")

	// ErrUserUnlinkFailed signals partial reconciliation on subscription
	// deletion: the subscription row is cancelled but the user pointer is stale.
	ErrUserUnlinkFailed = errors.New("error updating user subscription status")
)
