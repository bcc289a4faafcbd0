package ingest

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
)

// PurgeRunner periodically evicts expired ledger records so the table does
// not grow without bound. It is safe to run one runner per replica; purges
// are idempotent.
type PurgeRunner struct {
	store    core.IdempotencyStore
	logger   core.Logger
	metrics  core.MetricsRecorder
	interval time.Duration
}

type PurgeOption func(*PurgeRunner)

func WithPurgeLogger(logger core.Logger) PurgeOption {
	return func(r *PurgeRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithPurgeMetrics(recorder core.MetricsRecorder) PurgeOption {
	return func(r *PurgeRunner) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

func WithPurgeInterval(interval time.Duration) PurgeOption {
	return func(r *PurgeRunner) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func NewPurgeRunner(store core.IdempotencyStore, opts ...PurgeOption) (*PurgeRunner, error) {
	if store == nil {
		return nil, core.InternalError("ingest: idempotency store is required", nil)
	}
	_, logger := glog.Resolve("billing-webhooks", nil, nil)
	runner := &PurgeRunner{
		store:    store,
		logger:   glog.Ensure(logger),
		metrics:  core.NopMetricsRecorder{},
		interval: core.DefaultPurgeInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// Run blocks until ctx is cancelled, purging on every tick. Purge errors
// are logged and the loop keeps going; a transient store outage should not
// kill the runner.
func (r *PurgeRunner) Run(ctx context.Context) error {
	if r == nil {
		return core.InternalError("ingest: purge runner is nil", nil)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.purge(ctx)
		}
	}
}

func (r *PurgeRunner) purge(ctx context.Context) {
	purged, err := r.store.PurgeExpired(ctx)
	if err != nil {
		r.logger.Error("ingest: ledger purge failed", "error", err.Error())
		return
	}
	if purged > 0 {
		r.logger.Info("ingest: ledger purge completed", "purged", purged)
	}
	r.metrics.IncCounter(ctx, "webhooks.ledger.purged.total", int64(purged), nil)
}
