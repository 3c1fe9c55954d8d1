package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/titanstack/titan-billing/pkg/billing"
	"github.com/titanstack/titan-billing/pkg/email"
	"github.com/titanstack/titan-billing/storage/memory"
)

type recordingSender struct {
	messages []email.Message
	err      error
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func newTestHandler(t *testing.T, sender email.Sender, paymentsEnabled bool) (*Handler, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.SeedUser(&billing.UserRecord{
		UserID: "user1",
		Email:  "user1@example.com",
	})

	handler, err := NewHandler(Config{
		Store:           store,
		Email:           sender,
		PaymentsEnabled: paymentsEnabled,
		GetUserID:       FromQuery("userId"),
	})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	return handler, store
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestNewHandler_InvalidConfig(t *testing.T) {
	if _, err := NewHandler(Config{GetUserID: FromQuery("userId")}); err == nil {
		t.Error("Expected error for missing store")
	}
	if _, err := NewHandler(Config{Store: memory.New()}); err == nil {
		t.Error("Expected error for missing GetUserID")
	}
}

func TestJoinWaitlist(t *testing.T) {
	sender := &recordingSender{}
	handler, _ := newTestHandler(t, sender, true)

	req := httptest.NewRequest(http.MethodPost, "/api/waitlist",
		strings.NewReader(`{"email": "new@example.com"}`))
	w := httptest.NewRecorder()
	handler.JoinWaitlist(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := decodeResponse(t, w)["message"]; got != "Successfully joined waitlist" {
		t.Errorf("Unexpected message: %v", got)
	}
	if len(sender.messages) != 1 || sender.messages[0].To != "new@example.com" {
		t.Errorf("Expected welcome email, got %+v", sender.messages)
	}
}

func TestJoinWaitlist_MissingEmail(t *testing.T) {
	handler, _ := newTestHandler(t, &recordingSender{}, true)

	for _, body := range []string{`{}`, `not json`, ``} {
		req := httptest.NewRequest(http.MethodPost, "/api/waitlist", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.JoinWaitlist(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected status %d, got %d", body, http.StatusBadRequest, w.Code)
		}
	}
}

func TestJoinWaitlist_SendFailure(t *testing.T) {
	handler, _ := newTestHandler(t, &recordingSender{err: errors.New("plunk down")}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/waitlist",
		strings.NewReader(`{"email": "new@example.com"}`))
	w := httptest.NewRecorder()
	handler.JoinWaitlist(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if got := decodeResponse(t, w)["error"]; got != "Failed to join waitlist" {
		t.Errorf("Unexpected error: %v", got)
	}
}

func TestJoinWaitlist_EmailNotConfigured(t *testing.T) {
	// An unconfigured sender still records the signup as a success.
	handler, _ := newTestHandler(t, &recordingSender{err: email.ErrNotConfigured}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/waitlist",
		strings.NewReader(`{"email": "new@example.com"}`))
	w := httptest.NewRecorder()
	handler.JoinWaitlist(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestCheckAuthorized_ActiveSubscription(t *testing.T) {
	handler, store := newTestHandler(t, nil, true)
	ctx := context.Background()

	if err := store.UpsertSubscription(ctx, &billing.SubscriptionRecord{
		SubscriptionID: "sub_1",
		Status:         billing.SubscriptionStatusActive,
		StartDate:      time.Now().UTC(),
		UserID:         "user1",
		Email:          "user1@example.com",
	}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/authorized?userId=user1", http.NoBody)
	w := httptest.NewRecorder()
	handler.CheckAuthorized(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := decodeResponse(t, w)
	if body["authorized"] != true {
		t.Errorf("Expected authorized=true, got %v", body["authorized"])
	}
	if body["message"] != "User is subscribed" {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCheckAuthorized_NoSubscription(t *testing.T) {
	handler, _ := newTestHandler(t, nil, true)

	req := httptest.NewRequest(http.MethodGet, "/api/users/authorized?userId=user1", http.NoBody)
	w := httptest.NewRecorder()
	handler.CheckAuthorized(w, req)

	body := decodeResponse(t, w)
	if body["authorized"] != false {
		t.Errorf("Expected authorized=false, got %v", body["authorized"])
	}
	if body["message"] != "User is not subscribed" {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCheckAuthorized_CancelledSubscription(t *testing.T) {
	handler, store := newTestHandler(t, nil, true)

	if err := store.UpsertSubscription(context.Background(), &billing.SubscriptionRecord{
		SubscriptionID: "sub_1",
		Status:         billing.SubscriptionStatusCancelled,
		UserID:         "user1",
		Email:          "user1@example.com",
	}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/authorized?userId=user1", http.NoBody)
	w := httptest.NewRecorder()
	handler.CheckAuthorized(w, req)

	if got := decodeResponse(t, w)["authorized"]; got != false {
		t.Errorf("Expected authorized=false for cancelled subscription, got %v", got)
	}
}

func TestCheckAuthorized_UnknownUser(t *testing.T) {
	handler, _ := newTestHandler(t, nil, true)

	req := httptest.NewRequest(http.MethodGet, "/api/users/authorized?userId=ghost", http.NoBody)
	w := httptest.NewRecorder()
	handler.CheckAuthorized(w, req)

	body := decodeResponse(t, w)
	if body["authorized"] != false {
		t.Errorf("Expected authorized=false, got %v", body["authorized"])
	}
	if body["message"] != "User not found" {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCheckAuthorized_PaymentsDisabled(t *testing.T) {
	handler, _ := newTestHandler(t, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/api/users/authorized?userId=ghost", http.NoBody)
	w := httptest.NewRecorder()
	handler.CheckAuthorized(w, req)

	body := decodeResponse(t, w)
	if body["authorized"] != true {
		t.Errorf("Expected authorized=true when payments disabled, got %v", body["authorized"])
	}
	if body["message"] != "Payments are disabled" {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCheckAuthorized_MissingUserID(t *testing.T) {
	handler, _ := newTestHandler(t, nil, true)

	req := httptest.NewRequest(http.MethodGet, "/api/users/authorized", http.NoBody)
	w := httptest.NewRecorder()
	handler.CheckAuthorized(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestHealth(t *testing.T) {
	handler, _ := newTestHandler(t, nil, true)

	w := httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := decodeResponse(t, w)["status"]; got != "ok" {
		t.Errorf("Unexpected status: %v", got)
	}
}
