package ingest

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Dispatcher routes verified events to registered handlers, driving the
// idempotency ledger around each invocation.
type Dispatcher struct {
	store    core.IdempotencyStore
	registry *HandlerRegistry
	logger   core.Logger
	metrics  core.MetricsRecorder
	ttl      time.Duration
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherMetrics(recorder core.MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		if recorder != nil {
			d.metrics = recorder
		}
	}
}

func WithReservationTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func NewDispatcher(store core.IdempotencyStore, registry *HandlerRegistry, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, core.InternalError("ingest: idempotency store is required", nil)
	}
	if registry == nil {
		return nil, core.InternalError("ingest: handler registry is required", nil)
	}
	_, logger := glog.Resolve("billing-webhooks", nil, nil)
	dispatcher := &Dispatcher{
		store:    store,
		registry: registry,
		logger:   glog.Ensure(logger),
		metrics:  core.NopMetricsRecorder{},
		ttl:      core.DefaultLedgerTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	return dispatcher, nil
}

// Dispatch reserves the event id, invokes the registered handler, and
// decides the reservation's final state. The returned error is non-nil only
// for failure outcomes and is already classified.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.VerifiedEvent) (core.Outcome, error) {
	if d == nil {
		return core.OutcomeFailedRetryable, core.InternalError("ingest: dispatcher is nil", nil)
	}
	if strings.TrimSpace(event.ProviderID) == "" || strings.TrimSpace(event.EventID) == "" {
		return core.OutcomeFailedRetryable, core.InternalError(
			"ingest: event provider id and event id are required",
			map[string]any{"provider_id": event.ProviderID, "event_id": event.EventID},
		)
	}

	reservation, err := d.store.Reserve(ctx, event.ProviderID, event.EventID, d.ttl)
	if err != nil {
		// Fail closed: processing without a working dedup ledger risks
		// double-applied side effects.
		return core.OutcomeFailedRetryable, core.StoreUnavailableError(err, "ingest: idempotency reserve failed")
	}
	if !reservation.Reserved {
		d.observe(ctx, event, core.OutcomeSkipped, nil)
		return core.OutcomeSkipped, nil
	}

	handler, ok := d.registry.Resolve(event.EventType)
	if !ok {
		// Authenticated but unhandled types are acknowledged, not errors:
		// there is nothing to retry.
		d.finalize(ctx, event, core.ReservationSucceeded)
		d.observe(ctx, event, core.OutcomeIgnored, nil)
		return core.OutcomeIgnored, nil
	}

	handlerErr := d.invoke(ctx, handler, event)
	if handlerErr != nil {
		if core.IsTerminal(handlerErr) {
			d.finalize(ctx, event, core.ReservationFailed)
			d.observe(ctx, event, core.OutcomeFailedTerminal, handlerErr)
			return core.OutcomeFailedTerminal, handlerErr
		}
		classified := core.RetryableError(handlerErr, "ingest: handler failed transiently")
		d.release(ctx, event)
		d.observe(ctx, event, core.OutcomeFailedRetryable, classified)
		return core.OutcomeFailedRetryable, classified
	}

	d.finalize(ctx, event, core.ReservationSucceeded)
	d.observe(ctx, event, core.OutcomeApplied, nil)
	return core.OutcomeApplied, nil
}

// invoke shields the dispatch loop from handler panics; a panicking handler
// is a retryable failure like any other transient fault.
func (d *Dispatcher) invoke(ctx context.Context, handler core.Handler, event core.VerifiedEvent) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.InternalError(
				"ingest: handler panicked",
				map[string]any{
					"provider_id": event.ProviderID,
					"event_id":    event.EventID,
					"event_type":  event.EventType,
					"panic":       recovered,
				},
			)
		}
	}()
	return handler.Handle(ctx, event)
}

// finalize failures are logged but never change the outcome: the record
// stays pending until TTL expiry, so dedup still holds while the sender's
// follow-up delivery resolves the state.
func (d *Dispatcher) finalize(ctx context.Context, event core.VerifiedEvent, status core.ReservationStatus) {
	if err := d.store.Finalize(ctx, event.ProviderID, event.EventID, status); err != nil {
		d.logger.Error(
			"ingest: finalize reservation failed",
			"provider_id", event.ProviderID,
			"event_id", event.EventID,
			"status", string(status),
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) release(ctx context.Context, event core.VerifiedEvent) {
	if err := d.store.Release(ctx, event.ProviderID, event.EventID); err != nil {
		d.logger.Error(
			"ingest: release reservation failed",
			"provider_id", event.ProviderID,
			"event_id", event.EventID,
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) observe(ctx context.Context, event core.VerifiedEvent, outcome core.Outcome, err error) {
	tags := map[string]string{
		"provider_id": event.ProviderID,
		"event_type":  event.EventType,
		"outcome":     string(outcome),
	}
	d.metrics.IncCounter(ctx, "webhooks.dispatch.total", 1, tags)
	if err != nil {
		d.logger.Error(
			"ingest: dispatch failed",
			"provider_id", event.ProviderID,
			"event_id", event.EventID,
			"event_type", event.EventType,
			"outcome", string(outcome),
			"error", err.Error(),
		)
		return
	}
	d.logger.Info(
		"ingest: dispatch completed",
		"provider_id", event.ProviderID,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"outcome", string(outcome),
	)
}
