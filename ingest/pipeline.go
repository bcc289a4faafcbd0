package ingest

import (
	"context"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/providers"
)

// Receipt is the terminal result of one delivery attempt. StatusCode is the
// HTTP status that communicates retry intent to the sender.
type Receipt struct {
	Outcome    core.Outcome
	StatusCode int
	ProviderID string
	EventID    string
	EventType  string
}

// Pipeline runs a raw notification through verification, normalization,
// dispatch, and audit.
type Pipeline struct {
	codecs     *providers.Registry
	dispatcher *Dispatcher
	audit      core.AuditLog
	logger     core.Logger
	metrics    core.MetricsRecorder
}

type PipelineOption func(*Pipeline)

func WithPipelineLogger(logger core.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPipelineMetrics(recorder core.MetricsRecorder) PipelineOption {
	return func(p *Pipeline) {
		if recorder != nil {
			p.metrics = recorder
		}
	}
}

func WithAuditLog(audit core.AuditLog) PipelineOption {
	return func(p *Pipeline) {
		if audit != nil {
			p.audit = audit
		}
	}
}

func NewPipeline(codecs *providers.Registry, dispatcher *Dispatcher, opts ...PipelineOption) (*Pipeline, error) {
	if codecs == nil {
		return nil, core.InternalError("ingest: codec registry is required", nil)
	}
	if dispatcher == nil {
		return nil, core.InternalError("ingest: dispatcher is required", nil)
	}
	_, logger := glog.Resolve("billing-webhooks", nil, nil)
	pipeline := &Pipeline{
		codecs:     codecs,
		dispatcher: dispatcher,
		audit:      NewInMemoryAuditLog(),
		logger:     glog.Ensure(logger),
		metrics:    core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pipeline)
		}
	}
	return pipeline, nil
}

// Process handles one delivery end to end. The returned error mirrors the
// receipt's failure, already classified; callers answer with
// Receipt.StatusCode either way.
func (p *Pipeline) Process(ctx context.Context, n core.Notification) (Receipt, error) {
	if p == nil {
		return Receipt{
			Outcome:    core.OutcomeFailedRetryable,
			StatusCode: http.StatusServiceUnavailable,
		}, core.InternalError("ingest: pipeline is nil", nil)
	}
	n.ProviderID = strings.ToLower(strings.TrimSpace(n.ProviderID))

	codec, err := p.codecs.Resolve(n.ProviderID)
	if err != nil {
		receipt := Receipt{
			Outcome:    core.OutcomeRejected,
			StatusCode: core.HTTPStatus(err),
			ProviderID: n.ProviderID,
		}
		p.record(ctx, receipt, err)
		return receipt, err
	}

	// Verification runs against the raw bytes before anything touches the
	// ledger: a forged delivery must leave no trace beyond the audit log.
	if err := codec.Verify(ctx, n); err != nil {
		receipt := Receipt{
			Outcome:    core.OutcomeRejected,
			StatusCode: core.HTTPStatus(err),
			ProviderID: n.ProviderID,
		}
		p.record(ctx, receipt, err)
		return receipt, err
	}

	event, err := codec.Parse(n.Body)
	if err != nil {
		receipt := Receipt{
			Outcome:    core.OutcomeRejected,
			StatusCode: core.HTTPStatus(err),
			ProviderID: n.ProviderID,
		}
		p.record(ctx, receipt, err)
		return receipt, err
	}

	outcome, dispatchErr := p.dispatcher.Dispatch(ctx, event)
	receipt := Receipt{
		Outcome:    outcome,
		StatusCode: statusFor(outcome, dispatchErr),
		ProviderID: event.ProviderID,
		EventID:    event.EventID,
		EventType:  event.EventType,
	}
	p.record(ctx, receipt, dispatchErr)
	return receipt, dispatchErr
}

// statusFor maps outcomes to sender-facing retry intent: 200 acknowledges
// (including duplicates, ignored types, and terminal failures that must not
// be resent), 503 asks for redelivery.
func statusFor(outcome core.Outcome, err error) int {
	switch {
	case outcome.Terminal(), outcome == core.OutcomeSkipped:
		return http.StatusOK
	case outcome == core.OutcomeFailedRetryable:
		return http.StatusServiceUnavailable
	default:
		return core.HTTPStatus(err)
	}
}

// record never lets an audit failure alter the pipeline's decision.
func (p *Pipeline) record(ctx context.Context, receipt Receipt, cause error) {
	entry := core.AuditEntry{
		EventID:    receipt.EventID,
		ProviderID: receipt.ProviderID,
		EventType:  receipt.EventType,
		Outcome:    receipt.Outcome,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		p.logger.Error(
			"ingest: audit record failed",
			"provider_id", receipt.ProviderID,
			"event_id", receipt.EventID,
			"outcome", string(receipt.Outcome),
			"error", err.Error(),
		)
	}
	p.metrics.IncCounter(ctx, "webhooks.deliveries.total", 1, map[string]string{
		"provider_id": receipt.ProviderID,
		"outcome":     string(receipt.Outcome),
	})
}
