// Package billing defines the provider-agnostic core of the billing service:
// the local records reconciled from payment-provider events, the Store that
// persists them, and the Provider interface payment backends implement.
package billing

import (
	"context"
	"time"
)

// SubscriptionStatusCancelled is the synthetic status this system writes when a
// subscription is deleted at the provider. Every other status value is stored
// verbatim as reported by the provider.
const SubscriptionStatusCancelled = "cancelled"

// SubscriptionStatusActive is the provider status that grants access.
const SubscriptionStatusActive = "active"

// SubscriptionRecord mirrors one provider subscription in the local store,
// keyed by the provider-side subscription ID.
type SubscriptionRecord struct {
	// SubscriptionID is the provider subscription ID (upsert key).
	SubscriptionID string

	// StripeUserID is the provider customer ID.
	StripeUserID string

	// Status is the provider status, or SubscriptionStatusCancelled after deletion.
	Status string

	// StartDate is the provider-side creation time of the subscription.
	StartDate time.Time

	// PlanID is the price ID of the first subscription line item.
	PlanID string

	// UserID is the internal user ID from checkout metadata. Empty when the
	// subscription was created outside the checkout flow.
	UserID string

	// Email is the customer email resolved at event time.
	Email string
}

// InvoiceRecord is an append-only record of one invoice payment outcome.
// Exactly one of AmountPaid / AmountDue is set: AmountPaid on success,
// AmountDue on failure. Amounts are in major units (dollars, not cents).
type InvoiceRecord struct {
	InvoiceID      string
	SubscriptionID string
	AmountPaid     *float64
	AmountDue      *float64
	Currency       string
	Status         string // "succeeded" or "failed"
	UserID         string // from invoice metadata, may be empty
	Email          string
}

// PaymentRecord is an append-only record of one completed one-time payment.
type PaymentRecord struct {
	// StripeID is the checkout session ID.
	StripeID string

	UserID string
	Email  string

	// Amount is in major units.
	Amount float64

	// CustomerDetails is the JSON-serialized customer details from the session.
	CustomerDetails string

	PaymentIntent string
	PaymentTime   time.Time
	Currency      string
}

// UserRecord is the billing view of a user: an optional pointer to the
// checkout session that started their subscription, and a credit balance.
type UserRecord struct {
	UserID string
	Email  string

	// Subscription holds the checkout session ID while a subscription
	// lifecycle is in progress, nil otherwise.
	Subscription *string

	Credits float64
}

// Store persists billing records. Implementations must make AddUserCredits an
// atomic increment; the webhook sender redelivers events and two deliveries
// for the same user may race.
type Store interface {
	// UpsertSubscription inserts the record, or replaces the existing row with
	// the same SubscriptionID. Used for customer.subscription.created so that
	// redelivered events do not produce duplicate rows.
	UpsertSubscription(ctx context.Context, rec *SubscriptionRecord) error

	// UpdateSubscription updates the row matched by rec.SubscriptionID with
	// the full record. Returns ErrSubscriptionNotFound when no row matches.
	UpdateSubscription(ctx context.Context, rec *SubscriptionRecord) error

	// CancelSubscription sets the matched row's status to cancelled and
	// refreshes its email. The row is kept; subscriptions are never deleted.
	CancelSubscription(ctx context.Context, subscriptionID, email string) error

	// ClearUserSubscription nulls the subscription pointer on the user row
	// matched by email.
	ClearUserSubscription(ctx context.Context, email string) error

	// InsertInvoice appends an invoice record. Invoices are never updated in
	// place; identity linking happens later via LinkInvoicesToUser.
	InsertInvoice(ctx context.Context, rec *InvoiceRecord) error

	// LinkInvoicesToUser sets user_id on every invoice row matched by email.
	LinkInvoicesToUser(ctx context.Context, email, userID string) error

	// InsertPayment appends a one-time payment record.
	InsertPayment(ctx context.Context, rec *PaymentRecord) error

	// GetUser returns the user row, or ErrUserNotFound.
	GetUser(ctx context.Context, userID string) (*UserRecord, error)

	// SetUserSubscription points the user row at the given checkout session.
	SetUserSubscription(ctx context.Context, userID, sessionID string) error

	// AddUserCredits atomically increments the user's credit balance and
	// returns the new balance.
	AddUserCredits(ctx context.Context, userID string, amount float64) (float64, error)

	// GetSubscriptionsByUser returns all subscription rows for a user, newest
	// first. Used by the authorization check.
	GetSubscriptionsByUser(ctx context.Context, userID string) ([]*SubscriptionRecord, error)
}

// EventDeduper tracks processed webhook event IDs so redelivered events can be
// acknowledged without re-running reconciliation.
type EventDeduper interface {
	// MarkProcessed records the event ID and reports whether this was the
	// first time it was seen.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}
