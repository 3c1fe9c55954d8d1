// Package api provides HTTP endpoints for account-level concerns that sit
// next to the payment handlers: waitlist signup and the subscription
// authorization check.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/titanstack/titan-billing/pkg/billing"
	"github.com/titanstack/titan-billing/pkg/email"
)

const (
	waitlistSubject = "Welcome to the Waitlist!"
	maxUserIDLen    = 255
)

// Handler provides HTTP endpoints for waitlist and authorization checks
type Handler struct {
	config Config
}

// waitlistRequest is the JSON body accepted by JoinWaitlist
type waitlistRequest struct {
	Email string `json:"email"`
}

// AuthorizedResponse reports the outcome of a subscription check
type AuthorizedResponse struct {
	Authorized bool   `json:"authorized"`
	Message    string `json:"message"`
}

// JoinWaitlist records a waitlist signup and sends the welcome email when an
// email sender is configured
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req waitlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.handleError(w, r, fmt.Errorf("Email is required"), http.StatusBadRequest)
		return
	}

	err := h.config.Email.Send(ctx, email.Message{
		To:      req.Email,
		Subject: waitlistSubject,
		Body:    waitlistBody(req.Email),
	})
	if err != nil && !errors.Is(err, email.ErrNotConfigured) {
		h.config.Logger.Error("waitlist email failed",
			billing.Field{Key: "email", Value: req.Email},
			billing.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("Failed to join waitlist"), http.StatusInternalServerError)
		return
	}

	h.config.Logger.Info("waitlist signup",
		billing.Field{Key: "email", Value: req.Email})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Successfully joined waitlist"})
}

// CheckAuthorized reports whether the user holds an active subscription. When
// payments are disabled every user is authorized.
func (h *Handler) CheckAuthorized(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	resp := h.authorize(ctx, userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) authorize(ctx context.Context, userID string) AuthorizedResponse {
	if !h.config.PaymentsEnabled {
		return AuthorizedResponse{Authorized: true, Message: "Payments are disabled"}
	}

	if _, err := h.config.Store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			return AuthorizedResponse{Authorized: false, Message: "User not found"}
		}
		return AuthorizedResponse{Authorized: false, Message: err.Error()}
	}

	subs, err := h.config.Store.GetSubscriptionsByUser(ctx, userID)
	if err != nil {
		return AuthorizedResponse{Authorized: false, Message: err.Error()}
	}
	for _, sub := range subs {
		if sub.Status == billing.SubscriptionStatusActive {
			return AuthorizedResponse{Authorized: true, Message: "User is subscribed"}
		}
	}
	return AuthorizedResponse{Authorized: false, Message: "User is not subscribed"}
}

// Health responds 200 with a small JSON body. Mount it on the daemon's
// liveness route.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func waitlistBody(to string) string {
	return fmt.Sprintf("Hi %s,\n\nThanks for joining the waitlist. We'll let you know as soon as a spot opens up.", to)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
