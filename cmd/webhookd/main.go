// webhookd is the standalone webhook receiver: it terminates provider
// deliveries on POST /webhooks/{provider}, drives the idempotency ledger,
// and acknowledges with the retry semantics each sender expects.
//
// Configuration comes from WEBHOOKD_* environment variables, for example
// WEBHOOKD_PROVIDERS_STRIPE_SECRET. The ledger backend is picked from the
// environment too: DATABASE_URL selects Postgres, REDIS_ADDR selects Redis,
// and with neither set the daemon runs on the in-process ledger.
package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"

	billingwebhooks "github.com/goliatone/go-billing-webhooks"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/handlers"
	"github.com/goliatone/go-billing-webhooks/ingest"
	"github.com/goliatone/go-billing-webhooks/metrics"
	"github.com/goliatone/go-billing-webhooks/migrations"
	"github.com/goliatone/go-billing-webhooks/rest"
	redisstore "github.com/goliatone/go-billing-webhooks/store/redis"
	sqlstore "github.com/goliatone/go-billing-webhooks/store/sql"
)

const envPrefix = "WEBHOOKD_"

func main() {
	_, logger := glog.Resolve("webhookd", nil, nil)
	logger = glog.Ensure(logger)

	if err := run(logger); err != nil {
		logger.Error("webhookd exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger core.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider := core.NewCfgxConfigProvider(core.NewStaticRawConfigLoader(envValues()))
	cfg, err := provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer, metrics.WithRecorderLogger(logger))
	audit, store, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	facadeOpts := []billingwebhooks.FacadeOption{
		billingwebhooks.WithLogger(logger),
		billingwebhooks.WithMetrics(recorder),
		billingwebhooks.WithIdempotencyStore(store),
	}
	if audit != nil {
		facadeOpts = append(facadeOpts, billingwebhooks.WithAuditLog(audit))
	}
	facade, err := billingwebhooks.New(cfg, facadeOpts...)
	if err != nil {
		return err
	}
	if err := registerLifecycles(facade.Handlers(), logger); err != nil {
		return err
	}

	server, err := rest.NewServer(
		facade.Pipeline(),
		rest.WithServerLogger(logger),
		rest.WithServerMetrics(recorder),
		rest.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		rest.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		return err
	}

	purge, err := ingest.NewPurgeRunner(
		store,
		ingest.WithPurgeLogger(logger),
		ingest.WithPurgeMetrics(recorder),
		ingest.WithPurgeInterval(cfg.Ledger.PurgeInterval),
	)
	if err != nil {
		return err
	}
	go func() {
		if err := purge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("purge runner stopped", "error", err.Error())
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: server.Router(),
	}
	go func() {
		logger.Info("webhookd listening", "addr", cfg.HTTP.ListenAddr, "providers", strings.Join(facade.Codecs().ProviderIDs(), ","))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err.Error())
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildStores picks the ledger backend from the environment and returns the
// matching audit log (SQL keeps audit rows next to the claims; the other
// backends audit in memory).
func buildStores(
	ctx context.Context,
	cfg core.Config,
	logger core.Logger,
) (core.AuditLog, core.IdempotencyStore, func(), error) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		client, err := persistence.New(persistenceConfig{server: dsn, name: cfg.ServiceName}, sqlDB, pgdialect.New())
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, nil, err
		}
		_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
			if dialect != migrations.DialectPostgres {
				return nil
			}
			client.RegisterSQLMigrations(fsys)
			return nil
		}, migrations.WithValidationTargets(migrations.DialectPostgres))
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		logger.Info("ledger backend selected", "backend", "postgres")
		return factory.AuditStore(), factory.EventClaimStore(), func() { _ = client.Close() }, nil
	}

	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		store, err := redisstore.NewClaimStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		logger.Info("ledger backend selected", "backend", "redis")
		return nil, store, func() { _ = client.Close() }, nil
	}

	logger.Warn("ledger backend selected", "backend", "memory",
		"note", "per-process ledger cannot dedup across replicas")
	return nil, ingest.NewInMemoryIdempotencyStore(), func() {}, nil
}

// registerLifecycles wires logging collaborators so a fresh deployment
// acknowledges the full event surface before the host plugs in real ones.
func registerLifecycles(registry *ingest.HandlerRegistry, logger core.Logger) error {
	lifecycle := loggingLifecycle{logger: logger}
	if err := handlers.RegisterSubscriptionHandlers(registry, lifecycle); err != nil {
		return err
	}
	if err := handlers.RegisterPaymentHandlers(registry, lifecycle); err != nil {
		return err
	}
	return handlers.RegisterInvoiceHandlers(registry, lifecycle)
}

type loggingLifecycle struct {
	logger core.Logger
}

func (l loggingLifecycle) Activate(_ context.Context, sub handlers.Subscription) error {
	l.logger.Info("subscription activated", "subscription_id", sub.SubscriptionID, "customer_id", sub.CustomerID)
	return nil
}

func (l loggingLifecycle) Update(_ context.Context, sub handlers.Subscription) error {
	l.logger.Info("subscription updated", "subscription_id", sub.SubscriptionID, "status", sub.Status)
	return nil
}

func (l loggingLifecycle) Cancel(_ context.Context, sub handlers.Subscription) error {
	l.logger.Info("subscription cancelled", "subscription_id", sub.SubscriptionID)
	return nil
}

func (l loggingLifecycle) Settle(_ context.Context, payment handlers.Payment) error {
	l.logger.Info("payment settled", "payment_id", payment.PaymentID, "amount", payment.Amount, "currency", payment.Currency)
	return nil
}

func (l loggingLifecycle) Decline(_ context.Context, payment handlers.Payment) error {
	l.logger.Info("payment declined", "payment_id", payment.PaymentID)
	return nil
}

func (l loggingLifecycle) RequireAction(_ context.Context, payment handlers.Payment) error {
	l.logger.Info("payment requires action", "payment_id", payment.PaymentID)
	return nil
}

func (l loggingLifecycle) MarkPaid(_ context.Context, invoice handlers.Invoice) error {
	l.logger.Info("invoice paid", "invoice_id", invoice.InvoiceID, "amount_due", invoice.AmountDue)
	return nil
}

func (l loggingLifecycle) MarkFailed(_ context.Context, invoice handlers.Invoice) error {
	l.logger.Info("invoice payment failed", "invoice_id", invoice.InvoiceID)
	return nil
}

func (l loggingLifecycle) NotifyUpcoming(_ context.Context, invoice handlers.Invoice) error {
	l.logger.Info("invoice upcoming", "invoice_id", invoice.InvoiceID)
	return nil
}

type persistenceConfig struct {
	server string
	name   string
}

func (c persistenceConfig) GetDebug() bool {
	return false
}

func (c persistenceConfig) GetDriver() string {
	return "postgres"
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return c.name
}

// envValues maps WEBHOOKD_* variables onto the nested config shape:
// WEBHOOKD_PROVIDERS_STRIPE_SECRET becomes providers.stripe.secret.
func envValues() map[string]any {
	values := map[string]any{}
	for _, pair := range os.Environ() {
		key, value, found := strings.Cut(pair, "=")
		if !found || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_")
		setPath(values, path, value)
	}
	return values
}

func setPath(values map[string]any, path []string, value string) {
	// Known two-level sections keep their snake_case leaf names intact
	// (http.max_body_bytes, ledger.purge_interval, service_name).
	switch {
	case len(path) == 0:
		return
	case path[0] == "providers" && len(path) >= 3:
		nest(values, "providers", path[1])[strings.Join(path[2:], "_")] = value
	case path[0] == "http" && len(path) >= 2:
		section(values, "http")[strings.Join(path[1:], "_")] = value
	case path[0] == "ledger" && len(path) >= 2:
		section(values, "ledger")[strings.Join(path[1:], "_")] = value
	default:
		values[strings.Join(path, "_")] = value
	}
}

func section(values map[string]any, name string) map[string]any {
	if existing, ok := values[name].(map[string]any); ok {
		return existing
	}
	created := map[string]any{}
	values[name] = created
	return created
}

func nest(values map[string]any, name, child string) map[string]any {
	parent := section(values, name)
	if existing, ok := parent[child].(map[string]any); ok {
		return existing
	}
	created := map[string]any{}
	parent[child] = created
	return created
}
