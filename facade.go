// Package billingwebhooks assembles the webhook ingestion pipeline: codecs
// that authenticate and normalize provider deliveries, a dispatcher that
// drives the idempotency ledger, and the handler registry the host
// application populates with its billing lifecycles.
package billingwebhooks

import (
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/ingest"
	"github.com/goliatone/go-billing-webhooks/providers"
	"github.com/goliatone/go-billing-webhooks/providers/paypal"
	"github.com/goliatone/go-billing-webhooks/providers/square"
	"github.com/goliatone/go-billing-webhooks/providers/stripe"
)

// Facade owns the assembled pipeline and the registries the host wires its
// handlers into.
type Facade struct {
	config   core.Config
	codecs   *providers.Registry
	registry *ingest.HandlerRegistry
	pipeline *ingest.Pipeline
	store    core.IdempotencyStore
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	store    core.IdempotencyStore
	audit    core.AuditLog
	logger   core.Logger
	metrics  core.MetricsRecorder
	codecs   []providers.Codec
	registry *ingest.HandlerRegistry
}

// WithIdempotencyStore swaps the process-local ledger for a shared one
// (sqlstore.EventClaimStore or redisstore.ClaimStore in production).
func WithIdempotencyStore(store core.IdempotencyStore) FacadeOption {
	return func(options *facadeOptions) {
		options.store = store
	}
}

func WithAuditLog(audit core.AuditLog) FacadeOption {
	return func(options *facadeOptions) {
		options.audit = audit
	}
}

func WithLogger(logger core.Logger) FacadeOption {
	return func(options *facadeOptions) {
		options.logger = logger
	}
}

func WithMetrics(recorder core.MetricsRecorder) FacadeOption {
	return func(options *facadeOptions) {
		options.metrics = recorder
	}
}

// WithCodecs replaces the default provider codecs built from configuration.
func WithCodecs(codecs ...providers.Codec) FacadeOption {
	return func(options *facadeOptions) {
		options.codecs = codecs
	}
}

func WithHandlerRegistry(registry *ingest.HandlerRegistry) FacadeOption {
	return func(options *facadeOptions) {
		options.registry = registry
	}
}

// New builds a pipeline from configuration. Providers with configured
// secrets get their codecs registered; everything else is overridable
// through options.
func New(cfg core.Config, opts ...FacadeOption) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&options)
	}

	codecs := options.codecs
	if len(codecs) == 0 {
		codecs = defaultCodecs(cfg)
	}
	codecRegistry, err := providers.NewRegistry(codecs...)
	if err != nil {
		return nil, err
	}

	registry := options.registry
	if registry == nil {
		registry = ingest.NewHandlerRegistry()
	}
	store := options.store
	if store == nil {
		store = ingest.NewInMemoryIdempotencyStore()
	}

	dispatcherOpts := []ingest.DispatcherOption{
		ingest.WithReservationTTL(cfg.Ledger.TTL),
	}
	if options.logger != nil {
		dispatcherOpts = append(dispatcherOpts, ingest.WithDispatcherLogger(options.logger))
	}
	if options.metrics != nil {
		dispatcherOpts = append(dispatcherOpts, ingest.WithDispatcherMetrics(options.metrics))
	}
	dispatcher, err := ingest.NewDispatcher(store, registry, dispatcherOpts...)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []ingest.PipelineOption{}
	if options.audit != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithAuditLog(options.audit))
	}
	if options.logger != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithPipelineLogger(options.logger))
	}
	if options.metrics != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithPipelineMetrics(options.metrics))
	}
	pipeline, err := ingest.NewPipeline(codecRegistry, dispatcher, pipelineOpts...)
	if err != nil {
		return nil, err
	}

	return &Facade{
		config:   cfg,
		codecs:   codecRegistry,
		registry: registry,
		pipeline: pipeline,
		store:    store,
	}, nil
}

func (f *Facade) Pipeline() *ingest.Pipeline {
	if f == nil {
		return nil
	}
	return f.pipeline
}

// Handlers exposes the registry so hosts can bind their lifecycles after
// construction.
func (f *Facade) Handlers() *ingest.HandlerRegistry {
	if f == nil {
		return nil
	}
	return f.registry
}

func (f *Facade) Codecs() *providers.Registry {
	if f == nil {
		return nil
	}
	return f.codecs
}

func (f *Facade) Store() core.IdempotencyStore {
	if f == nil {
		return nil
	}
	return f.store
}

func defaultCodecs(cfg core.Config) []providers.Codec {
	codecs := []providers.Codec{}
	if secret, err := cfg.Secret(stripe.ProviderID); err == nil {
		codecs = append(codecs, stripe.NewCodec(stripe.Config{Secret: secret}))
	}
	if secret, err := cfg.Secret(paypal.ProviderID); err == nil {
		codecs = append(codecs, paypal.NewCodec(paypal.Config{Secret: secret}))
	}
	if secret, err := cfg.Secret(square.ProviderID); err == nil {
		codecs = append(codecs, square.NewCodec(square.Config{Secret: secret}))
	}
	return codecs
}
