package square

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

const (
	ProviderID = "square"

	SignatureHeader = "X-Square-HmacSHA256-Signature"
)

type Config struct {
	Secret string
}

type Codec struct {
	verifier webhooks.HeaderHMACVerifier
}

func NewCodec(cfg Config) *Codec {
	return &Codec{
		verifier: webhooks.HeaderHMACVerifier{
			Header:   SignatureHeader,
			Secret:   strings.TrimSpace(cfg.Secret),
			Encoding: "base64",
		},
	}
}

func (c *Codec) ProviderID() string {
	return ProviderID
}

func (c *Codec) Verify(ctx context.Context, n core.Notification) error {
	if c == nil {
		return core.ConfigurationError("square: codec is not configured", nil)
	}
	return c.verifier.Verify(ctx, n)
}

type eventEnvelope struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	CreatedAt string         `json:"created_at"`
	Data      map[string]any `json:"data"`
}

func (c *Codec) Parse(body []byte) (core.VerifiedEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.VerifiedEvent{}, core.WrapMalformedPayloadError(
			err,
			"square: decode event envelope",
			map[string]any{"provider_id": ProviderID},
		)
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		return core.VerifiedEvent{}, core.MalformedPayloadError(
			"square: event_id is required",
			map[string]any{"provider_id": ProviderID},
		)
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return core.VerifiedEvent{}, core.MalformedPayloadError(
			"square: event type is required",
			map[string]any{"provider_id": ProviderID, "event_id": envelope.EventID},
		)
	}

	occurredAt := time.Time{}
	if trimmed := strings.TrimSpace(envelope.CreatedAt); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return core.VerifiedEvent{}, core.WrapMalformedPayloadError(
				err,
				"square: parse created_at",
				map[string]any{"provider_id": ProviderID, "event_id": envelope.EventID},
			)
		}
		occurredAt = parsed.UTC()
	}
	payload := envelope.Data
	if payload == nil {
		payload = map[string]any{}
	}
	return core.VerifiedEvent{
		ProviderID: ProviderID,
		EventID:    envelope.EventID,
		EventType:  envelope.Type,
		Payload:    payload,
		OccurredAt: occurredAt,
	}, nil
}
