// Package memory provides an in-memory implementation of the billing.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/titanstack/titan-billing/pkg/billing"
)

// Store implements billing.Store using in-memory maps
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*billing.SubscriptionRecord // by subscription ID
	invoices      []*billing.InvoiceRecord
	payments      []*billing.PaymentRecord
	users         map[string]*billing.UserRecord // by user ID
	usersByEmail  map[string]string              // email -> user ID
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*billing.SubscriptionRecord),
		users:         make(map[string]*billing.UserRecord),
		usersByEmail:  make(map[string]string),
	}
}

// SeedUser inserts a user row. Intended for tests and examples.
func (s *Store) SeedUser(user *billing.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users[u.UserID] = &u
	if u.Email != "" {
		s.usersByEmail[u.Email] = u.UserID
	}
}

// UpsertSubscription implements billing.Store
func (s *Store) UpsertSubscription(_ context.Context, rec *billing.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.subscriptions[rec.SubscriptionID] = &r
	return nil
}

// UpdateSubscription implements billing.Store
func (s *Store) UpdateSubscription(_ context.Context, rec *billing.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[rec.SubscriptionID]; !ok {
		return billing.ErrSubscriptionNotFound
	}
	r := *rec
	s.subscriptions[rec.SubscriptionID] = &r
	return nil
}

// CancelSubscription implements billing.Store
func (s *Store) CancelSubscription(_ context.Context, subscriptionID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	sub.Status = billing.SubscriptionStatusCancelled
	sub.Email = email
	return nil
}

// ClearUserSubscription implements billing.Store
func (s *Store) ClearUserSubscription(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.usersByEmail[email]
	if !ok {
		return billing.ErrUserNotFound
	}
	s.users[userID].Subscription = nil
	return nil
}

// InsertInvoice implements billing.Store
func (s *Store) InsertInvoice(_ context.Context, rec *billing.InvoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.invoices = append(s.invoices, &r)
	return nil
}

// LinkInvoicesToUser implements billing.Store
func (s *Store) LinkInvoicesToUser(_ context.Context, email, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.Email == email {
			inv.UserID = userID
		}
	}
	return nil
}

// InsertPayment implements billing.Store
func (s *Store) InsertPayment(_ context.Context, rec *billing.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.payments = append(s.payments, &r)
	return nil
}

// GetUser implements billing.Store
func (s *Store) GetUser(_ context.Context, userID string) (*billing.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	// Return a copy to prevent external mutations
	userCopy := *user
	return &userCopy, nil
}

// SetUserSubscription implements billing.Store
func (s *Store) SetUserSubscription(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return billing.ErrUserNotFound
	}
	user.Subscription = &sessionID
	return nil
}

// AddUserCredits implements billing.Store. The increment happens under the
// store lock, matching the atomicity the interface requires.
func (s *Store) AddUserCredits(_ context.Context, userID string, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return 0, billing.ErrUserNotFound
	}
	user.Credits += amount
	return user.Credits, nil
}

// GetSubscriptionsByUser implements billing.Store
func (s *Store) GetSubscriptionsByUser(_ context.Context, userID string) ([]*billing.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.SubscriptionRecord
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			subCopy := *sub
			out = append(out, &subCopy)
		}
	}
	return out, nil
}

// Invoices returns a snapshot of all invoice rows. Intended for tests.
func (s *Store) Invoices() []*billing.InvoiceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*billing.InvoiceRecord, 0, len(s.invoices))
	for _, inv := range s.invoices {
		invCopy := *inv
		out = append(out, &invCopy)
	}
	return out
}

// Payments returns a snapshot of all payment rows. Intended for tests.
func (s *Store) Payments() []*billing.PaymentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*billing.PaymentRecord, 0, len(s.payments))
	for _, pay := range s.payments {
		payCopy := *pay
		out = append(out, &payCopy)
	}
	return out
}

// Subscription returns the subscription row with the given ID, or nil.
// Intended for tests.
func (s *Store) Subscription(subscriptionID string) *billing.SubscriptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil
	}
	subCopy := *sub
	return &subCopy
}

// Deduper is an in-memory billing.EventDeduper with TTL expiry.
// Intended for tests and single-process deployments.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewDeduper creates an in-memory event deduper. A zero ttl means entries
// never expire.
func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// MarkProcessed implements billing.EventDeduper
func (d *Deduper) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if at, ok := d.seen[eventID]; ok {
		if d.ttl == 0 || now.Sub(at) < d.ttl {
			return false, nil
		}
	}
	d.seen[eventID] = now
	return true, nil
}
