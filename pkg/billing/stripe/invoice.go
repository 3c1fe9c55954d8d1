package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/titanstack/titan-billing/pkg/billing"
)

type invoiceOutcome string

const (
	invoiceSucceeded invoiceOutcome = "succeeded"
	invoiceFailed    invoiceOutcome = "failed"
)

// handleInvoiceEvent reconciles invoice.payment_{succeeded,failed} events into
// the invoices table. Invoices are append-only: every event inserts a new row,
// and user identity is attached later during checkout completion.
func (p *Provider) handleInvoiceEvent(
	ctx context.Context, event *stripe.Event, outcome invoiceOutcome,
) (string, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return "", fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	customerID := ""
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}

	email, err := p.customerEmail(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("invoice %s: %w", invoice.ID, err)
	}

	rec := &billing.InvoiceRecord{
		InvoiceID:      invoice.ID,
		SubscriptionID: invoiceSubscriptionID(event.Data.Raw),
		Currency:       string(invoice.Currency),
		Status:         string(outcome),
		UserID:         invoice.Metadata[metadataKeyUserID], // may be absent
		Email:          email,
	}

	// Minor-unit to major-unit conversion; exactly one amount field is set.
	switch outcome {
	case invoiceSucceeded:
		paid := float64(invoice.AmountPaid) / 100
		rec.AmountPaid = &paid
	case invoiceFailed:
		due := float64(invoice.AmountDue) / 100
		rec.AmountDue = &due
	}

	p.logger.Info("reconciling invoice",
		billing.Field{Key: "invoice_id", Value: invoice.ID},
		billing.Field{Key: "outcome", Value: string(outcome)})

	if err := p.store.InsertInvoice(ctx, rec); err != nil {
		p.metrics.RecordReconciliation(providerName, "invoice_insert", "error")
		return "", fmt.Errorf("error inserting invoice (payment %s): %w", outcome, err)
	}
	p.metrics.RecordReconciliation(providerName, "invoice_insert", "success")

	return fmt.Sprintf("Invoice payment %s", outcome), nil
}

// invoiceSubscriptionID extracts the subscription ID from the raw invoice
// payload. The SDK's Invoice struct does not expose the field directly, and
// the wire value may be either an expanded object or a bare ID string.
func invoiceSubscriptionID(raw []byte) string {
	var rawData map[string]interface{}
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return ""
	}
	switch v := rawData["subscription"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	case string:
		return v
	}
	return ""
}
