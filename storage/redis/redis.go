// Package redis provides a Redis implementation of the billing.EventDeduper
// interface. SET NX gives the first-writer-wins semantics needed to recognize
// redelivered webhook events across service instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper implements billing.EventDeduper using Redis
type Deduper struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis deduper configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billing:event:")
	KeyPrefix string

	// EventTTL bounds how long a processed event ID is remembered. Stripe
	// retries deliveries for up to three days, so the default is 72h.
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "billing:event:",
		EventTTL:  72 * time.Hour,
	}
}

// New creates a new Redis event deduper.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Deduper, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "billing:event:"
	}
	if config.EventTTL == 0 {
		config.EventTTL = 72 * time.Hour
	}
	return &Deduper{client: client, config: config}, nil
}

// MarkProcessed implements billing.EventDeduper
func (d *Deduper) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	first, err := d.client.SetNX(ctx, d.config.KeyPrefix+eventID, 1, d.config.EventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return first, nil
}
