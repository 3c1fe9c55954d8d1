package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
)

type subscriptionAction string

const (
	subscriptionCreated subscriptionAction = "created"
	subscriptionUpdated subscriptionAction = "updated"
	subscriptionDeleted subscriptionAction = "deleted"
)

// handleSubscriptionEvent reconciles customer.subscription.{created,updated,deleted}
// events into the subscriptions table.
func (p *Provider) handleSubscriptionEvent(
	ctx context.Context, event *stripe.Event, action subscriptionAction,
) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	email, err := p.customerEmail(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	rec := &billing.SubscriptionRecord{
		SubscriptionID: sub.ID,
		StripeUserID:   customerID,
		Status:         string(sub.Status),
		StartDate:      time.Unix(sub.Created, 0).UTC(),
		PlanID:         firstItemPriceID(&sub),
		UserID:         sub.Metadata[metadataKeyUserID], // empty when created outside checkout
		Email:          email,
	}

	if action == subscriptionDeleted {
		return p.reconcileSubscriptionDeleted(ctx, sub.ID, email)
	}

	p.logger.Info("reconciling subscription",
		billing.Field{Key: "subscription_id", Value: sub.ID},
		billing.Field{Key: "action", Value: string(action)},
		billing.Field{Key: "status", Value: rec.Status})

	switch action {
	case subscriptionCreated:
		// Upsert rather than blind insert: the sender may redeliver created
		// events, and matching by subscription_id keeps that from producing
		// duplicate rows.
		if err := p.store.UpsertSubscription(ctx, rec); err != nil {
			p.metrics.RecordReconciliation(providerName, "subscription_upsert", "error")
			return "", fmt.Errorf("error during subscription created: %w", err)
		}
		p.metrics.RecordReconciliation(providerName, "subscription_upsert", "success")
	case subscriptionUpdated:
		if err := p.store.UpdateSubscription(ctx, rec); err != nil {
			p.metrics.RecordReconciliation(providerName, "subscription_update", "error")
			return "", fmt.Errorf("error during subscription updated: %w", err)
		}
		p.metrics.RecordReconciliation(providerName, "subscription_update", "success")
	}

	return fmt.Sprintf("Subscription %s success", action), nil
}

// reconcileSubscriptionDeleted marks the subscription row cancelled (the row
// is kept, never deleted) and clears the user's subscription pointer. The two
// updates fail distinctly: a failed user update means the subscription is
// already cancelled locally but the user pointer is stale.
func (p *Provider) reconcileSubscriptionDeleted(ctx context.Context, subscriptionID, email string) (string, error) {
	if err := p.store.CancelSubscription(ctx, subscriptionID, email); err != nil {
		p.metrics.RecordReconciliation(providerName, "subscription_cancel", "error")
		return "", fmt.Errorf("error during subscription deleted: %w", err)
	}
	p.metrics.RecordReconciliation(providerName, "subscription_cancel", "success")

	if err := p.store.ClearUserSubscription(ctx, email); err != nil {
		p.metrics.RecordReconciliation(providerName, "user_unlink", "error")
		return "", fmt.Errorf("%w: %v", billing.ErrUserUnlinkFailed, err)
	}
	p.metrics.RecordReconciliation(providerName, "user_unlink", "success")

	p.logger.Info("subscription cancelled",
		billing.Field{Key: "subscription_id", Value: subscriptionID})
	return "Subscription deleted success", nil
}

// firstItemPriceID returns the price ID of the first subscription line item.
func firstItemPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}
