package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/titanstack/titan-billing/pkg/billing"
)

// customerEmail resolves a Stripe customer ID to an email address. The local
// schema keys invoices and payments by email, not solely by customer ID, so a
// missing email fails the whole event.
func (p *Provider) customerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("%w: missing customer id", billing.ErrCustomerEmailUnavailable)
	}

	// FAST PATH: App provides the mapping (O(1))
	if p.customerEmailResolver != nil {
		email, err := p.customerEmailResolver(ctx, customerID)
		if err == nil && email != "" {
			return email, nil
		}
	}

	// SLOW PATH: Stripe Customers API
	startTime := time.Now()
	cust, err := p.retrieveCustomer(ctx, customerID)
	p.metrics.RecordAPICallDuration(providerName, "/customers/{id}", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/customers/{id}", "error")
		return "", fmt.Errorf("%w: %v", billing.ErrCustomerEmailUnavailable, err)
	}
	p.metrics.RecordAPICall(providerName, "/customers/{id}", "success")

	if cust.Email == "" {
		return "", fmt.Errorf("%w for customer %s", billing.ErrCustomerEmailUnavailable, customerID)
	}

	p.logger.Debug("customer email fetched",
		billing.Field{Key: "customer_id", Value: customerID})
	return cust.Email, nil
}
