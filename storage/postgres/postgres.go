// Package postgres provides a PostgreSQL implementation of the billing.Store
// interface on top of a pgx connection pool. Subscription upserts use
// ON CONFLICT on the provider subscription ID, and credit updates are a single
// atomic UPDATE so concurrent webhook deliveries cannot lose an increment.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/titanstack/titan-billing/pkg/billing"
)

//go:embed schema.sql
var schemaSQL string

// Store implements billing.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the billing tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpsertSubscription implements billing.Store
func (s *Store) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (subscription_id, stripe_user_id, status, start_date, plan_id, user_id, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (subscription_id) DO UPDATE SET
				stripe_user_id = EXCLUDED.stripe_user_id,
				status = EXCLUDED.status,
				start_date = EXCLUDED.start_date,
				plan_id = EXCLUDED.plan_id,
				user_id = EXCLUDED.user_id,
				email = EXCLUDED.email`,
		rec.SubscriptionID, rec.StripeUserID, rec.Status, rec.StartDate, rec.PlanID, rec.UserID, rec.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements billing.Store
func (s *Store) UpdateSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
				stripe_user_id = $2,
				status = $3,
				start_date = $4,
				plan_id = $5,
				user_id = $6,
				email = $7
			WHERE subscription_id = $1`,
		rec.SubscriptionID, rec.StripeUserID, rec.Status, rec.StartDate, rec.PlanID, rec.UserID, rec.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// CancelSubscription implements billing.Store. The row is kept; only the
// status flips to cancelled.
func (s *Store) CancelSubscription(ctx context.Context, subscriptionID, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2, email = $3 WHERE subscription_id = $1`,
		subscriptionID, billing.SubscriptionStatusCancelled, email,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// ClearUserSubscription implements billing.Store
func (s *Store) ClearUserSubscription(ctx context.Context, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE "user" SET subscription = NULL WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to clear user subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// InsertInvoice implements billing.Store
func (s *Store) InsertInvoice(ctx context.Context, rec *billing.InvoiceRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO invoices (invoice_id, subscription_id, amount_paid, amount_due, currency, status, user_id, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.InvoiceID, rec.SubscriptionID, rec.AmountPaid, rec.AmountDue, rec.Currency, rec.Status, rec.UserID, rec.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

// LinkInvoicesToUser implements billing.Store
func (s *Store) LinkInvoicesToUser(ctx context.Context, email, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE invoices SET user_id = $2 WHERE email = $1`, email, userID)
	if err != nil {
		return fmt.Errorf("failed to link invoices to user: %w", err)
	}
	return nil
}

// InsertPayment implements billing.Store
func (s *Store) InsertPayment(ctx context.Context, rec *billing.PaymentRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments (stripe_id, user_id, email, amount, customer_details, payment_intent, payment_time, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.StripeID, rec.UserID, rec.Email, rec.Amount, rec.CustomerDetails, rec.PaymentIntent, rec.PaymentTime, rec.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetUser implements billing.Store
func (s *Store) GetUser(ctx context.Context, userID string) (*billing.UserRecord, error) {
	var user billing.UserRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email, subscription, credits FROM "user" WHERE user_id = $1`,
		userID).Scan(&user.UserID, &user.Email, &user.Subscription, &user.Credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// SetUserSubscription implements billing.Store
func (s *Store) SetUserSubscription(ctx context.Context, userID, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE "user" SET subscription = $2 WHERE user_id = $1`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set user subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// AddUserCredits implements billing.Store. The increment is a single UPDATE,
// not a select-then-update, so concurrent deliveries cannot race.
func (s *Store) AddUserCredits(ctx context.Context, userID string, amount float64) (float64, error) {
	var credits float64
	err := s.pool.QueryRow(ctx,
		`UPDATE "user" SET credits = credits + $2 WHERE user_id = $1 RETURNING credits`,
		userID, amount).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, billing.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add user credits: %w", err)
	}
	return credits, nil
}

// GetSubscriptionsByUser implements billing.Store
func (s *Store) GetSubscriptionsByUser(ctx context.Context, userID string) ([]*billing.SubscriptionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subscription_id, stripe_user_id, status, start_date, plan_id, user_id, email
			FROM subscriptions WHERE user_id = $1 ORDER BY start_date DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*billing.SubscriptionRecord
	for rows.Next() {
		var rec billing.SubscriptionRecord
		if err := rows.Scan(
			&rec.SubscriptionID, &rec.StripeUserID, &rec.Status,
			&rec.StartDate, &rec.PlanID, &rec.UserID, &rec.Email,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return out, nil
}
