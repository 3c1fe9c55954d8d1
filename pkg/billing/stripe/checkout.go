package stripe

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
	"github.com/titanstack/titan-billing/pkg/billing/internal"
)

type checkoutRequest struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	PriceID      string `json:"priceId"`
	Subscription bool   `json:"subscription"`
}

// handleCreateCheckoutSession creates a Stripe Checkout Session in
// subscription or payment mode. The session metadata carries the caller's
// identity so the webhook reconcilers can link records back to the user.
func (p *Provider) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.PriceID == "" {
		_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Price ID is required"})
		return
	}

	mode := stripe.CheckoutSessionModePayment
	if req.Subscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(mode)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			metadataKeyUserID:       req.UserID,
			metadataKeyEmail:        req.Email,
			metadataKeySubscription: strconv.FormatBool(req.Subscription),
		},
		SuccessURL: stripe.String(p.frontendURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.frontendURL + "/cancel"),
	}
	if req.Subscription {
		params.AllowPromotionCodes = stripe.Bool(true)
	}

	startTime := time.Now()
	session, err := p.createCheckoutSession(r.Context(), params)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.logger.Error("checkout session creation failed",
			billing.Field{Key: "price_id", Value: req.PriceID},
			billing.Field{Key: "error", Value: err.Error()})
		_ = internal.WriteJSON(w, http.StatusBadRequest,
			map[string]string{"error": "Failed to create checkout session"})
		return
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")

	p.logger.Info("checkout session created",
		billing.Field{Key: "session_id", Value: session.ID},
		billing.Field{Key: "mode", Value: string(mode)})

	_ = internal.WriteJSON(w, http.StatusOK, map[string]string{"sessionId": session.ID})
}
