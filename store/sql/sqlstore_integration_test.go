package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/migrations"
	sqlstore "github.com/goliatone/go-billing-webhooks/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "billing-webhooks-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:billing-webhooks-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(migrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newFactory(t *testing.T) (*sqlstore.StoreFactory, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new store factory: %v", err)
	}
	return factory, cleanup
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"webhook_event_claims", "webhook_audit_entries"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master: %v", err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestEventClaimStore_ReserveBlocksLiveClaims(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	first, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !first.Reserved || first.Status != core.ReservationPending {
		t.Fatalf("expected winning pending reservation, got %+v", first)
	}

	second, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve duplicate: %v", err)
	}
	if second.Reserved {
		t.Fatalf("expected duplicate reserve to be blocked, got %+v", second)
	}
	if second.Status != core.ReservationPending {
		t.Fatalf("expected blocked reserve to surface pending status, got %q", second.Status)
	}

	// Another provider's claim with the same event id is independent.
	other, err := store.Reserve(ctx, "paypal", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve other provider: %v", err)
	}
	if !other.Reserved {
		t.Fatalf("expected independent claim per provider, got %+v", other)
	}
}

func TestEventClaimStore_FinalizeIsSticky(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	if _, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Finalize(ctx, "stripe", "evt_1", core.ReservationSucceeded); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := store.Finalize(ctx, "stripe", "evt_1", core.ReservationFailed); err != nil {
		t.Fatalf("finalize again: %v", err)
	}

	reservation, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve after finalize: %v", err)
	}
	if reservation.Reserved {
		t.Fatal("expected finalized claim to block re-reservation")
	}
	if reservation.Status != core.ReservationSucceeded {
		t.Fatalf("expected first terminal status to stick, got %q", reservation.Status)
	}
}

func TestEventClaimStore_FinalizeRejectsPendingStatus(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	if _, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Finalize(ctx, "stripe", "evt_1", core.ReservationPending); err == nil {
		t.Fatal("expected pending finalize to be rejected")
	}
}

func TestEventClaimStore_ReleaseReopensTheClaim(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	if _, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	reservation, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if !reservation.Reserved {
		t.Fatal("expected released claim to be re-reservable")
	}
}

func TestEventClaimStore_ReleaseKeepsTerminalClaims(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	if _, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Finalize(ctx, "stripe", "evt_1", core.ReservationFailed); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := store.Release(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("release terminal: %v", err)
	}

	reservation, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reservation.Reserved {
		t.Fatal("expected terminal claim to survive release")
	}
	if reservation.Status != core.ReservationFailed {
		t.Fatalf("expected failed status, got %q", reservation.Status)
	}
}

func TestEventClaimStore_ExpiredClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	if _, err := store.Reserve(ctx, "stripe", "evt_1", time.Nanosecond); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	reservation, err := store.Reserve(ctx, "stripe", "evt_1", time.Hour)
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if !reservation.Reserved {
		t.Fatal("expected expired claim to be taken over")
	}
	if reservation.Status != core.ReservationPending {
		t.Fatalf("expected fresh pending claim, got %q", reservation.Status)
	}
}

func TestEventClaimStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.EventClaimStore()

	if _, err := store.Reserve(ctx, "stripe", "evt_old", time.Nanosecond); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "stripe", "evt_new", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	purged, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged claim, got %d", purged)
	}

	reservation, err := store.Reserve(ctx, "stripe", "evt_new", time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reservation.Reserved {
		t.Fatal("expected live claim to survive purge")
	}
}

func TestAuditStore_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	store := factory.AuditStore()

	entries := []core.AuditEntry{
		{ProviderID: "stripe", EventID: "evt_1", EventType: "invoice.paid", Outcome: core.OutcomeApplied},
		{ProviderID: "stripe", EventID: "evt_1", EventType: "invoice.paid", Outcome: core.OutcomeSkipped},
		{ProviderID: "paypal", EventID: "evt_2", EventType: "PAYMENT.SALE.COMPLETED", Outcome: core.OutcomeRejected, Error: "signature mismatch"},
	}
	for index, entry := range entries {
		entry.CreatedAt = time.Date(2025, 3, 1, 10, index, 0, 0, time.UTC)
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("record %d: %v", index, err)
		}
	}

	recent, err := store.Recent(ctx, "stripe", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 stripe entries, got %d", len(recent))
	}
	if recent[0].Outcome != core.OutcomeSkipped {
		t.Fatalf("expected newest entry first, got %+v", recent[0])
	}

	all, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Error != "signature mismatch" {
		t.Fatalf("expected failure detail on newest entry, got %+v", all[0])
	}
}

func TestAuditStore_RequiresProviderID(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	if err := factory.AuditStore().Record(ctx, core.AuditEntry{Outcome: core.OutcomeApplied}); err == nil {
		t.Fatal("expected missing provider id to be rejected")
	}
}
