package rest_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/handlers"
	"github.com/goliatone/go-billing-webhooks/ingest"
	"github.com/goliatone/go-billing-webhooks/providers"
	"github.com/goliatone/go-billing-webhooks/providers/stripe"
	"github.com/goliatone/go-billing-webhooks/rest"
)

const testSecret = "whsec_test"

type nopInvoices struct{ paid int }

func (n *nopInvoices) MarkPaid(context.Context, handlers.Invoice) error {
	n.paid++
	return nil
}

func (n *nopInvoices) MarkFailed(context.Context, handlers.Invoice) error {
	return nil
}

func (n *nopInvoices) NotifyUpcoming(context.Context, handlers.Invoice) error {
	return nil
}

type testServer struct {
	handler  http.Handler
	store    *ingest.InMemoryIdempotencyStore
	audit    *ingest.InMemoryAuditLog
	invoices *nopInvoices
	now      time.Time
}

func newTestServer(t *testing.T, opts ...rest.ServerOption) *testServer {
	t.Helper()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	codec := stripe.NewCodec(stripe.Config{
		Secret: testSecret,
		Now:    func() time.Time { return now },
	})
	codecs, err := providers.NewRegistry(codec)
	if err != nil {
		t.Fatalf("new codec registry: %v", err)
	}

	registry := ingest.NewHandlerRegistry()
	invoices := &nopInvoices{}
	if err := handlers.RegisterInvoiceHandlers(registry, invoices); err != nil {
		t.Fatalf("register invoice handlers: %v", err)
	}

	store := ingest.NewInMemoryIdempotencyStore()
	audit := ingest.NewInMemoryAuditLog()
	dispatcher, err := ingest.NewDispatcher(store, registry)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	pipeline, err := ingest.NewPipeline(codecs, dispatcher, ingest.WithAuditLog(audit))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	server, err := rest.NewServer(pipeline, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{
		handler:  server.Router(),
		store:    store,
		audit:    audit,
		invoices: invoices,
		now:      now,
	}
}

func signedRequest(t *testing.T, ts *testServer, body string) *http.Request {
	t.Helper()
	timestamp := ts.now.Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", timestamp, body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", timestamp, signature))
	return req
}

func invoicePaidBody(eventID string) string {
	return fmt.Sprintf(
		`{"id":%q,"type":"invoice.paid","created":1740820000,"data":{"object":{"id":"in_1","customer":"cus_1","amount_due":4500,"currency":"usd"}}}`,
		eventID,
	)
}

func TestWebhookEndpointAppliesSignedDelivery(t *testing.T) {
	ts := newTestServer(t)

	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, signedRequest(t, ts, invoicePaidBody("evt_1")))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		ProviderID string `json:"provider_id"`
		EventID    string `json:"event_id"`
		Outcome    string `json:"outcome"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Outcome != string(core.OutcomeApplied) {
		t.Fatalf("expected applied outcome, got %q", response.Outcome)
	}
	if response.ProviderID != "stripe" || response.EventID != "evt_1" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if ts.invoices.paid != 1 {
		t.Fatalf("expected 1 MarkPaid call, got %d", ts.invoices.paid)
	}
}

func TestWebhookEndpointDuplicateAnswers200WithoutReprocessing(t *testing.T) {
	ts := newTestServer(t)

	first := httptest.NewRecorder()
	ts.handler.ServeHTTP(first, signedRequest(t, ts, invoicePaidBody("evt_1")))
	second := httptest.NewRecorder()
	ts.handler.ServeHTTP(second, signedRequest(t, ts, invoicePaidBody("evt_1")))

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}
	if ts.invoices.paid != 1 {
		t.Fatalf("expected 1 MarkPaid call, got %d", ts.invoices.paid)
	}
	entries := ts.audit.Entries()
	if len(entries) != 2 || entries[1].Outcome != core.OutcomeSkipped {
		t.Fatalf("expected skipped second attempt, got %+v", entries)
	}
}

func TestWebhookEndpointRejectsTamperedBody(t *testing.T) {
	ts := newTestServer(t)

	req := signedRequest(t, ts, invoicePaidBody("evt_1"))
	tampered := strings.Replace(invoicePaidBody("evt_1"), "4500", "1", 1)
	req.Body = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(tampered)).Body

	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if _, ok := ts.store.Get("stripe", "evt_1"); ok {
		t.Fatal("expected no ledger entry for rejected delivery")
	}
	if ts.invoices.paid != 0 {
		t.Fatalf("expected no MarkPaid calls, got %d", ts.invoices.paid)
	}
}

func TestWebhookEndpointUnknownProviderAnswers404(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/braintree", strings.NewReader("{}"))
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestWebhookEndpointEnforcesBodyLimit(t *testing.T) {
	ts := newTestServer(t, rest.WithMaxBodyBytes(64))

	oversized := bytes.Repeat([]byte("a"), 128)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(oversized))
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", recorder.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	ts := newTestServer(t)

	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestWebhookEndpointUnhandledTypeAnswers200(t *testing.T) {
	ts := newTestServer(t)
	body := fmt.Sprintf(
		`{"id":"evt_9","type":"charge.refunded","created":%d,"data":{"object":{"id":"ch_1"}}}`,
		ts.now.Unix(),
	)
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, signedRequest(t, ts, body))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for unhandled type, got %d", recorder.Code)
	}
	var response struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Outcome != string(core.OutcomeIgnored) {
		t.Fatalf("expected ignored outcome, got %q", response.Outcome)
	}
}
