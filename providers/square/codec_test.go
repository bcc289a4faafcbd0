package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerify_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"event_id":"evt-1","type":"payment.updated"}`)
	codec := NewCodec(Config{Secret: "square-secret"})

	n := core.Notification{
		ProviderID: ProviderID,
		Headers: map[string]string{
			SignatureHeader: signBody("square-secret", body),
		},
		Body: body,
	}
	if err := codec.Verify(context.Background(), n); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"event_id":"evt-1","type":"payment.updated"}`)
	codec := NewCodec(Config{Secret: "square-secret"})

	n := core.Notification{
		ProviderID: ProviderID,
		Headers: map[string]string{
			SignatureHeader: signBody("other-secret", body),
		},
		Body: body,
	}
	err := codec.Verify(context.Background(), n)
	if err == nil || !core.IsAuthenticationError(err) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestParse_DecodesEnvelope(t *testing.T) {
	codec := NewCodec(Config{Secret: "square-secret"})
	body := []byte(`{
		"event_id": "6a8f5f28-54a1-4eb0-a98a-3111513fd4fc",
		"type": "invoice.payment_made",
		"created_at": "2026-03-01T12:00:00Z",
		"data": {"id": "inv_100", "object": "invoice"}
	}`)

	event, err := codec.Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventID != "6a8f5f28-54a1-4eb0-a98a-3111513fd4fc" {
		t.Fatalf("unexpected event id %q", event.EventID)
	}
	if event.EventType != "invoice.payment_made" {
		t.Fatalf("unexpected event type %q", event.EventType)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !event.OccurredAt.Equal(want) {
		t.Fatalf("unexpected occurred_at %v", event.OccurredAt)
	}
	if event.Payload["id"] != "inv_100" {
		t.Fatalf("unexpected payload %v", event.Payload)
	}
}

func TestParse_RejectsMissingType(t *testing.T) {
	codec := NewCodec(Config{Secret: "square-secret"})

	_, err := codec.Parse([]byte(`{"event_id":"evt-1"}`))
	if err == nil || !core.IsMalformedPayloadError(err) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
}

func TestParse_RejectsInvalidTimestamp(t *testing.T) {
	codec := NewCodec(Config{Secret: "square-secret"})

	_, err := codec.Parse([]byte(`{"event_id":"evt-1","type":"payment.updated","created_at":"yesterday"}`))
	if err == nil || !core.IsMalformedPayloadError(err) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
}
