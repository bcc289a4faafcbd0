package billingwebhooks_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	billingwebhooks "github.com/goliatone/go-billing-webhooks"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/handlers"
	"github.com/goliatone/go-billing-webhooks/ingest"
	"github.com/goliatone/go-billing-webhooks/providers/stripe"
)

type countingInvoices struct {
	paid int
}

func (c *countingInvoices) MarkPaid(context.Context, handlers.Invoice) error {
	c.paid++
	return nil
}

func (c *countingInvoices) MarkFailed(context.Context, handlers.Invoice) error {
	return nil
}

func (c *countingInvoices) NotifyUpcoming(context.Context, handlers.Invoice) error {
	return nil
}

func TestFacadeAssemblesWorkingPipeline(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	secret := "whsec_facade"

	cfg := core.DefaultConfig()
	cfg.Providers = map[string]core.ProviderConfig{
		"stripe": {Secret: secret},
	}

	facade, err := billingwebhooks.New(cfg, billingwebhooks.WithCodecs(
		stripe.NewCodec(stripe.Config{Secret: secret, Now: func() time.Time { return now }}),
	))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	invoices := &countingInvoices{}
	if err := handlers.RegisterInvoiceHandlers(facade.Handlers(), invoices); err != nil {
		t.Fatalf("register handlers: %v", err)
	}

	body := `{"id":"evt_1","type":"invoice.paid","created":1740820000,"data":{"object":{"id":"in_1","customer":"cus_1","amount_due":100,"currency":"usd"}}}`
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", now.Unix(), body)

	receipt, err := facade.Pipeline().Process(context.Background(), core.Notification{
		ProviderID: "stripe",
		Headers: map[string]string{
			"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(mac.Sum(nil))),
		},
		Body: []byte(body),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if receipt.Outcome != core.OutcomeApplied {
		t.Fatalf("expected applied, got %q", receipt.Outcome)
	}
	if invoices.paid != 1 {
		t.Fatalf("expected 1 MarkPaid call, got %d", invoices.paid)
	}
}

func TestFacadeBuildsCodecsFromConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Providers = map[string]core.ProviderConfig{
		"stripe": {Secret: "whsec_1"},
		"paypal": {Secret: "whsec_2"},
		"square": {Secret: "whsec_3"},
	}

	facade, err := billingwebhooks.New(cfg)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ids := facade.Codecs().ProviderIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 codecs, got %v", ids)
	}
}

func TestFacadeUsesProvidedStore(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Providers = map[string]core.ProviderConfig{"stripe": {Secret: "whsec_1"}}
	store := ingest.NewInMemoryIdempotencyStore()

	facade, err := billingwebhooks.New(cfg, billingwebhooks.WithIdempotencyStore(store))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Store() != core.IdempotencyStore(store) {
		t.Fatal("expected facade to keep the provided store")
	}
}

func TestFacadeRejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Providers = map[string]core.ProviderConfig{"stripe": {Secret: "  "}}
	if _, err := billingwebhooks.New(cfg); err == nil {
		t.Fatal("expected blank secret to be rejected")
	}
}
