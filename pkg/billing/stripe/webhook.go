package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
	"github.com/titanstack/titan-billing/pkg/billing/internal"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A missing secret is a deployment bug, not a caller error.
	if len(p.webhookSecret) == 0 {
		p.logger.Error("webhook secret missing")
		_ = internal.WriteJSON(w, http.StatusInternalServerError,
			map[string]string{"error": "Webhook secret not configured properly"})
		return
	}

	// Read the raw body before any parsing; signature verification requires
	// the exact byte sequence.
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}
	if sig == "" {
		p.logger.Warn("missing stripe-signature header")
		p.metrics.RecordWebhookError(providerName, "missing_signature")
		_ = internal.WriteJSON(w, http.StatusBadRequest,
			map[string]string{"error": "Missing signature header"})
		return
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		p.logger.Warn("webhook signature verification failed",
			billing.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	eventType := string(event.Type)
	p.logger.Info("webhook event received",
		billing.Field{Key: "event_id", Value: event.ID},
		billing.Field{Key: "event_type", Value: eventType})

	// Redelivery check. The sender retries on non-2xx, so an already-seen
	// event is acknowledged without re-running reconciliation. A deduper
	// failure is availability-over-dedup: log and process anyway.
	if p.deduper != nil && event.ID != "" {
		first, dedupErr := p.deduper.MarkProcessed(r.Context(), event.ID)
		if dedupErr != nil {
			p.logger.Warn("event dedup check failed",
				billing.Field{Key: "event_id", Value: event.ID},
				billing.Field{Key: "error", Value: dedupErr.Error()})
		} else if !first {
			p.metrics.RecordWebhookEvent(providerName, eventType, "duplicate")
			_ = internal.WriteJSON(w, http.StatusOK,
				map[string]interface{}{"received": true, "event": eventType})
			return
		}
	}

	message, handled, err := p.processEvent(r.Context(), &event)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))

	if err != nil {
		p.logger.Error("webhook event processing failed",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: eventType},
			billing.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		_ = internal.WriteJSON(w, http.StatusInternalServerError,
			map[string]interface{}{"status": http.StatusInternalServerError, "error": err.Error()})
		return
	}

	if !handled {
		// Unknown-but-valid event types still succeed; the provider retries
		// anything that is not a 2xx.
		p.metrics.RecordWebhookEvent(providerName, eventType, "ignored")
		_ = internal.WriteJSON(w, http.StatusOK,
			map[string]interface{}{"received": true, "event": eventType})
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	_ = internal.WriteJSON(w, http.StatusOK,
		map[string]interface{}{"status": http.StatusOK, "message": message})
}

// processEvent dispatches an event to its reconciler. It returns the success
// message for the HTTP response and whether the event type is recognized.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (string, bool, error) {
	switch event.Type {
	case "customer.subscription.created":
		msg, err := p.handleSubscriptionEvent(ctx, event, subscriptionCreated)
		return msg, true, err
	case "customer.subscription.updated":
		msg, err := p.handleSubscriptionEvent(ctx, event, subscriptionUpdated)
		return msg, true, err
	case "customer.subscription.deleted":
		msg, err := p.handleSubscriptionEvent(ctx, event, subscriptionDeleted)
		return msg, true, err
	case "invoice.payment_succeeded":
		msg, err := p.handleInvoiceEvent(ctx, event, invoiceSucceeded)
		return msg, true, err
	case "invoice.payment_failed":
		msg, err := p.handleInvoiceEvent(ctx, event, invoiceFailed)
		return msg, true, err
	case "checkout.session.completed":
		msg, err := p.handleCheckoutSessionCompleted(ctx, event)
		return msg, true, err
	default:
		return "", false, nil
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
