package handlers

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Payment is the slice of a provider payment object handed to the billing
// side. Amount is in the currency's minor unit.
type Payment struct {
	PaymentID  string
	CustomerID string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

type PaymentLifecycle interface {
	Settle(ctx context.Context, payment Payment) error
	Decline(ctx context.Context, payment Payment) error
	RequireAction(ctx context.Context, payment Payment) error
}

// RegisterPaymentHandlers binds the payment-intent event family to the
// lifecycle collaborator.
func RegisterPaymentHandlers(registry registrar, lifecycle PaymentLifecycle) error {
	if registry == nil {
		return core.InternalError("handlers: handler registry is required", nil)
	}
	if lifecycle == nil {
		return core.InternalError("handlers: payment lifecycle is required", nil)
	}
	bindings := map[string]func(context.Context, Payment) error{
		"payment_intent.succeeded":       lifecycle.Settle,
		"payment_intent.payment_failed":  lifecycle.Decline,
		"payment_intent.requires_action": lifecycle.RequireAction,
	}
	for eventType, apply := range bindings {
		apply := apply
		handler := core.HandlerFunc(func(ctx context.Context, event core.VerifiedEvent) error {
			payment, err := paymentFromEvent(event)
			if err != nil {
				return err
			}
			return apply(ctx, payment)
		})
		if err := registry.Register(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func paymentFromEvent(event core.VerifiedEvent) (Payment, error) {
	id, err := stringField(event.Payload, "id")
	if err != nil {
		return Payment{}, err
	}
	amount, err := amountField(event.Payload, "amount")
	if err != nil {
		return Payment{}, err
	}
	return Payment{
		PaymentID:  id,
		CustomerID: optionalStringField(event.Payload, "customer"),
		Amount:     amount,
		Currency:   optionalStringField(event.Payload, "currency"),
		OccurredAt: event.OccurredAt,
	}, nil
}
