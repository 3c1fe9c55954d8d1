package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
)

// handleCheckoutSessionCompleted reconciles checkout.session.completed events.
//
// Subscription checkouts push the session metadata onto the remote
// subscription object (later lifecycle events do not carry checkout metadata
// otherwise), then link earlier invoices and the user row to the session.
// One-time checkouts record a payment row and credit the user's balance.
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	p.logger.Info("reconciling checkout session",
		billing.Field{Key: "session_id", Value: session.ID},
		billing.Field{Key: "subscription_checkout", Value: metadata[metadataKeySubscription]})

	if metadata[metadataKeySubscription] == "true" {
		return p.completeSubscriptionCheckout(ctx, &session, metadata)
	}
	return p.completeOneTimePayment(ctx, &session, metadata)
}

// completeSubscriptionCheckout runs the three linking sub-steps for a
// subscription-mode checkout. Each failure carries its own named error so an
// operator can tell which step left reconciliation partial.
func (p *Provider) completeSubscriptionCheckout(
	ctx context.Context, session *stripe.CheckoutSession, metadata map[string]string,
) (string, error) {
	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		return "", fmt.Errorf("checkout session %s has no subscription", session.ID)
	}

	// 1. Push the checkout metadata onto the remote subscription so later
	// subscription-lifecycle events carry userId/email.
	startTime := time.Now()
	err := p.patchSubscriptionMetadata(ctx, subscriptionID, metadata)
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/{id}", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/{id}", "error")
		return "", fmt.Errorf("error updating subscription metadata: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/{id}", "success")

	// 2. Attach user identity to invoices inserted before it was known.
	if err := p.store.LinkInvoicesToUser(ctx, metadata[metadataKeyEmail], metadata[metadataKeyUserID]); err != nil {
		p.metrics.RecordReconciliation(providerName, "invoice_link", "error")
		return "", fmt.Errorf("%w: %v", billing.ErrInvoiceLinkFailed, err)
	}
	p.metrics.RecordReconciliation(providerName, "invoice_link", "success")

	// 3. Point the user row at this checkout session.
	if err := p.store.SetUserSubscription(ctx, metadata[metadataKeyUserID], session.ID); err != nil {
		p.metrics.RecordReconciliation(providerName, "user_link", "error")
		return "", fmt.Errorf("%w: %v", billing.ErrUserLinkFailed, err)
	}
	p.metrics.RecordReconciliation(providerName, "user_link", "success")

	return "Subscription metadata updated successfully", nil
}

// completeOneTimePayment records the payment row and credits the user.
// The credit update is an atomic increment at the storage layer; concurrent
// deliveries for the same user must not lose an increment.
func (p *Provider) completeOneTimePayment(
	ctx context.Context, session *stripe.CheckoutSession, metadata map[string]string,
) (string, error) {
	userID := metadata[metadataKeyUserID]
	amount := float64(session.AmountTotal) / 100

	customerDetails, err := json.Marshal(session.CustomerDetails)
	if err != nil {
		return "", fmt.Errorf("error serializing customer details: %w", err)
	}

	paymentIntent := ""
	if session.PaymentIntent != nil {
		paymentIntent = session.PaymentIntent.ID
	}

	rec := &billing.PaymentRecord{
		StripeID:        session.ID,
		UserID:          userID,
		Email:           metadata[metadataKeyEmail],
		Amount:          amount,
		CustomerDetails: string(customerDetails),
		PaymentIntent:   paymentIntent,
		PaymentTime:     time.Unix(session.Created, 0).UTC(),
		Currency:        string(session.Currency),
	}

	if err := p.store.InsertPayment(ctx, rec); err != nil {
		p.metrics.RecordReconciliation(providerName, "payment_insert", "error")
		return "", fmt.Errorf("error inserting payment: %w", err)
	}
	p.metrics.RecordReconciliation(providerName, "payment_insert", "success")

	newBalance, err := p.store.AddUserCredits(ctx, userID, amount)
	if err != nil {
		p.metrics.RecordReconciliation(providerName, "credits_add", "error")
		return "", fmt.Errorf("error updating user credits: %w", err)
	}
	p.metrics.RecordReconciliation(providerName, "credits_add", "success")

	p.logger.Info("payment recorded",
		billing.Field{Key: "session_id", Value: session.ID},
		billing.Field{Key: "user_id", Value: userID},
		billing.Field{Key: "credits", Value: newBalance})

	return "Payment and credits updated successfully", nil
}
