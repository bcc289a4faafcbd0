package handlers

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Subscription is the slice of a provider subscription object the billing
// side cares about.
type Subscription struct {
	SubscriptionID string
	CustomerID     string
	Status         string
	PriceID        string
	OccurredAt     time.Time
}

// SubscriptionLifecycle is implemented by the host application; the
// registry helpers adapt it into event handlers.
type SubscriptionLifecycle interface {
	Activate(ctx context.Context, sub Subscription) error
	Update(ctx context.Context, sub Subscription) error
	Cancel(ctx context.Context, sub Subscription) error
}

type registrar interface {
	Register(pattern string, handler core.Handler) error
}

// RegisterSubscriptionHandlers binds the subscription event family to the
// lifecycle collaborator.
func RegisterSubscriptionHandlers(registry registrar, lifecycle SubscriptionLifecycle) error {
	if registry == nil {
		return core.InternalError("handlers: handler registry is required", nil)
	}
	if lifecycle == nil {
		return core.InternalError("handlers: subscription lifecycle is required", nil)
	}
	bindings := map[string]func(context.Context, Subscription) error{
		"customer.subscription.created": lifecycle.Activate,
		"customer.subscription.updated": lifecycle.Update,
		"customer.subscription.deleted": lifecycle.Cancel,
	}
	for eventType, apply := range bindings {
		apply := apply
		handler := core.HandlerFunc(func(ctx context.Context, event core.VerifiedEvent) error {
			sub, err := subscriptionFromEvent(event)
			if err != nil {
				return err
			}
			return apply(ctx, sub)
		})
		if err := registry.Register(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func subscriptionFromEvent(event core.VerifiedEvent) (Subscription, error) {
	id, err := stringField(event.Payload, "id")
	if err != nil {
		return Subscription{}, err
	}
	customerID, err := stringField(event.Payload, "customer")
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{
		SubscriptionID: id,
		CustomerID:     customerID,
		Status:         optionalStringField(event.Payload, "status"),
		PriceID:        optionalStringField(event.Payload, "price"),
		OccurredAt:     event.OccurredAt,
	}, nil
}
