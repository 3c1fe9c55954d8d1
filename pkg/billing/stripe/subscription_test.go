package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
)

// newEvent wraps an object payload in a stripe.Event for direct handler calls.
func newEvent(t *testing.T, eventType string, object interface{}) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("Failed to marshal event object: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleSubscriptionCreated(t *testing.T) {
	provider, store := newTestProvider(t)
	ctx := context.Background()

	event := newEvent(t, "customer.subscription.created", subscriptionObject("trialing"))
	msg, err := provider.handleSubscriptionEvent(ctx, event, subscriptionCreated)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if msg != "Subscription created success" {
		t.Errorf("Unexpected message: %s", msg)
	}

	sub := store.Subscription(testSubscriptionID)
	if sub == nil {
		t.Fatal("Expected subscription row")
	}
	if sub.Status != "trialing" {
		t.Errorf("Expected status trialing, got %s", sub.Status)
	}
	if sub.StartDate.IsZero() {
		t.Error("Expected start date to be set")
	}
}

func TestHandleSubscriptionCreated_RedeliveryDoesNotDuplicate(t *testing.T) {
	provider, store := newTestProvider(t)
	ctx := context.Background()

	event := newEvent(t, "customer.subscription.created", subscriptionObject("active"))
	if _, err := provider.handleSubscriptionEvent(ctx, event, subscriptionCreated); err != nil {
		t.Fatalf("First delivery failed: %v", err)
	}
	// Same event again; the upsert must land on the existing row.
	if _, err := provider.handleSubscriptionEvent(ctx, event, subscriptionCreated); err != nil {
		t.Fatalf("Redelivery failed: %v", err)
	}

	subs, err := store.GetSubscriptionsByUser(ctx, testUserID)
	if err != nil {
		t.Fatalf("Failed to list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("Expected 1 subscription row, got %d", len(subs))
	}
}

func TestHandleSubscriptionUpdated(t *testing.T) {
	provider, store := newTestProvider(t)
	ctx := context.Background()

	created := newEvent(t, "customer.subscription.created", subscriptionObject("active"))
	if _, err := provider.handleSubscriptionEvent(ctx, created, subscriptionCreated); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	updated := newEvent(t, "customer.subscription.updated", subscriptionObject("past_due"))
	msg, err := provider.handleSubscriptionEvent(ctx, updated, subscriptionUpdated)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if msg != "Subscription updated success" {
		t.Errorf("Unexpected message: %s", msg)
	}

	if got := store.Subscription(testSubscriptionID).Status; got != "past_due" {
		t.Errorf("Expected status past_due, got %s", got)
	}
}

func TestHandleSubscriptionUpdated_UnknownSubscription(t *testing.T) {
	provider, _ := newTestProvider(t)

	event := newEvent(t, "customer.subscription.updated", subscriptionObject("active"))
	_, err := provider.handleSubscriptionEvent(context.Background(), event, subscriptionUpdated)
	if !errors.Is(err, billing.ErrSubscriptionNotFound) {
		t.Fatalf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestHandleSubscriptionDeleted(t *testing.T) {
	provider, store := newTestProvider(t)
	ctx := context.Background()

	created := newEvent(t, "customer.subscription.created", subscriptionObject("active"))
	if _, err := provider.handleSubscriptionEvent(ctx, created, subscriptionCreated); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := store.SetUserSubscription(ctx, testUserID, "cs_session_1"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	deleted := newEvent(t, "customer.subscription.deleted", subscriptionObject("canceled"))
	msg, err := provider.handleSubscriptionEvent(ctx, deleted, subscriptionDeleted)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if msg != "Subscription deleted success" {
		t.Errorf("Unexpected message: %s", msg)
	}

	// The row is kept but flipped to cancelled, and the user pointer clears.
	sub := store.Subscription(testSubscriptionID)
	if sub == nil {
		t.Fatal("Expected subscription row to remain")
	}
	if sub.Status != billing.SubscriptionStatusCancelled {
		t.Errorf("Expected status %s, got %s", billing.SubscriptionStatusCancelled, sub.Status)
	}

	user, err := store.GetUser(ctx, testUserID)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Subscription != nil {
		t.Errorf("Expected nil user subscription, got %v", *user.Subscription)
	}
}

func TestHandleSubscriptionDeleted_UserUnlinkFails(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	// Customer resolves to an email with no matching user row.
	provider.customerEmailResolver = func(_ context.Context, _ string) (string, error) {
		return "nobody@example.com", nil
	}

	created := newEvent(t, "customer.subscription.created", subscriptionObject("active"))
	if _, err := provider.handleSubscriptionEvent(ctx, created, subscriptionCreated); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	deleted := newEvent(t, "customer.subscription.deleted", subscriptionObject("canceled"))
	_, err := provider.handleSubscriptionEvent(ctx, deleted, subscriptionDeleted)
	if !errors.Is(err, billing.ErrUserUnlinkFailed) {
		t.Fatalf("Expected ErrUserUnlinkFailed, got %v", err)
	}
}

func TestHandleSubscriptionEvent_EmailLookupFails(t *testing.T) {
	provider, store := newTestProvider(t)

	object := subscriptionObject("active")
	object["customer"] = map[string]interface{}{"id": "cus_unknown"}
	provider.retrieveCustomer = func(_ context.Context, _ string) (*stripe.Customer, error) {
		return nil, errors.New("stripe unavailable")
	}

	event := newEvent(t, "customer.subscription.created", object)
	_, err := provider.handleSubscriptionEvent(context.Background(), event, subscriptionCreated)
	if !errors.Is(err, billing.ErrCustomerEmailUnavailable) {
		t.Fatalf("Expected ErrCustomerEmailUnavailable, got %v", err)
	}
	if sub := store.Subscription(testSubscriptionID); sub != nil {
		t.Error("Expected no persistence when email lookup fails")
	}
}

func TestFirstItemPriceID(t *testing.T) {
	if got := firstItemPriceID(&stripe.Subscription{}); got != "" {
		t.Errorf("Expected empty price ID for empty items, got %s", got)
	}

	sub := &stripe.Subscription{
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: testPriceID}},
			},
		},
	}
	if got := firstItemPriceID(sub); got != testPriceID {
		t.Errorf("Expected %s, got %s", testPriceID, got)
	}
}

func TestSubscriptionStartDate_FromCreated(t *testing.T) {
	provider, store := newTestProvider(t)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	object := subscriptionObject("active")
	object["created"] = created.Unix()

	event := newEvent(t, "customer.subscription.created", object)
	if _, err := provider.handleSubscriptionEvent(context.Background(), event, subscriptionCreated); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got := store.Subscription(testSubscriptionID).StartDate; !got.Equal(created) {
		t.Errorf("Expected start date %v, got %v", created, got)
	}
}
