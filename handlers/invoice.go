package handlers

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Invoice is the slice of a provider invoice object handed to the billing
// side. AmountDue is in the currency's minor unit.
type Invoice struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	AmountDue      int64
	Currency       string
	OccurredAt     time.Time
}

type InvoiceLifecycle interface {
	MarkPaid(ctx context.Context, invoice Invoice) error
	MarkFailed(ctx context.Context, invoice Invoice) error
	NotifyUpcoming(ctx context.Context, invoice Invoice) error
}

// RegisterInvoiceHandlers binds the invoice event family to the lifecycle
// collaborator.
func RegisterInvoiceHandlers(registry registrar, lifecycle InvoiceLifecycle) error {
	if registry == nil {
		return core.InternalError("handlers: handler registry is required", nil)
	}
	if lifecycle == nil {
		return core.InternalError("handlers: invoice lifecycle is required", nil)
	}
	bindings := map[string]func(context.Context, Invoice) error{
		"invoice.paid":           lifecycle.MarkPaid,
		"invoice.payment_failed": lifecycle.MarkFailed,
		"invoice.upcoming":       lifecycle.NotifyUpcoming,
	}
	for eventType, apply := range bindings {
		apply := apply
		handler := core.HandlerFunc(func(ctx context.Context, event core.VerifiedEvent) error {
			invoice, err := invoiceFromEvent(event)
			if err != nil {
				return err
			}
			return apply(ctx, invoice)
		})
		if err := registry.Register(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func invoiceFromEvent(event core.VerifiedEvent) (Invoice, error) {
	id, err := stringField(event.Payload, "id")
	if err != nil {
		return Invoice{}, err
	}
	amountDue, err := amountField(event.Payload, "amount_due")
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{
		InvoiceID:      id,
		CustomerID:     optionalStringField(event.Payload, "customer"),
		SubscriptionID: optionalStringField(event.Payload, "subscription"),
		AmountDue:      amountDue,
		Currency:       optionalStringField(event.Payload, "currency"),
		OccurredAt:     event.OccurredAt,
	}, nil
}
