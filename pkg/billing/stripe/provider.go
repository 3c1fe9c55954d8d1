// Package stripe implements the billing.Provider interface for Stripe: it
// verifies and routes webhook events, reconciles them into the local Store,
// and creates Checkout Sessions for subscription and one-time purchases.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
	"github.com/titanstack/titan-billing/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultFrontendURL       = "http://localhost:3000"
	maxWebhookBodyBytes      = 256 * 1024

	// metadataKeyUserID matches the key set at checkout-session creation time.
	metadataKeyUserID       = "userId"
	metadataKeyEmail        = "email"
	metadataKeySubscription = "subscription"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Deduper, Logger, Metrics, ...)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// Performance Hook (Optional)
	// If provided, customer email lookups use this for O(1) local resolution
	// before falling back to the Stripe Customers API.
	CustomerEmailResolver func(context.Context, string) (string, error)
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store         billing.Store
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	frontendURL   string
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	deduper       billing.EventDeduper
	logger        billing.Logger
	metrics       billing.Metrics

	customerEmailResolver func(context.Context, string) (string, error)

	// Seams over outbound Stripe calls so reconcilers are testable without a
	// live API. Defaults hit the real client.
	patchSubscriptionMetadata func(ctx context.Context, subscriptionID string, metadata map[string]string) error
	createCheckoutSession     func(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	retrieveCustomer          func(ctx context.Context, customerID string) (*stripe.Customer, error)
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	frontendURL := strings.TrimRight(strings.TrimSpace(config.FrontendURL), "/")
	if frontendURL == "" {
		frontendURL = defaultFrontendURL
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	stripeClient := stripe.NewClient(apiKey)

	p := &Provider{
		store:                 config.Store,
		config:                config,
		httpClient:            httpClient,
		rateLimiter:           internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		frontendURL:           frontendURL,
		webhookSecret:         []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		apiKey:                apiKey,
		stripeClient:          stripeClient,
		deduper:               config.Deduper,
		logger:                logger,
		metrics:               metrics,
		customerEmailResolver: config.CustomerEmailResolver,
	}

	p.patchSubscriptionMetadata = p.patchSubscriptionMetadataAPI
	p.createCheckoutSession = p.createCheckoutSessionAPI
	p.retrieveCustomer = p.retrieveCustomerAPI

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

// CheckoutHandler returns the HTTP handler that creates Checkout Sessions
func (p *Provider) CheckoutHandler() http.Handler {
	return http.HandlerFunc(p.handleCreateCheckoutSession)
}

func (p *Provider) patchSubscriptionMetadataAPI(ctx context.Context, subscriptionID string, metadata map[string]string) error {
	params := &stripe.SubscriptionUpdateParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	_, err := p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	return err
}

func (p *Provider) createCheckoutSessionAPI(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return p.stripeClient.V1CheckoutSessions.Create(ctx, params)
}

func (p *Provider) retrieveCustomerAPI(ctx context.Context, customerID string) (*stripe.Customer, error) {
	return p.stripeClient.V1Customers.Retrieve(ctx, customerID, nil)
}
