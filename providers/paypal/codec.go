package paypal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

const (
	ProviderID = "paypal"

	SignatureHeader = "Paypal-Transmission-Sig"
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
		return core.ConfigurationError("paypal: codec is not configured", nil)
	}
	return c.verifier.Verify(ctx, n)
}

type eventEnvelope struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	CreateTime string         `json:"create_time"`
	Resource   map[string]any `json:"resource"`
}

func (c *Codec) Parse(body []byte) (core.VerifiedEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.VerifiedEvent{}, core.WrapMalformedPayloadError(
			err,
			"paypal: decode event envelope",
			map[string]any{"provider_id": ProviderID},
		)
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return core.VerifiedEvent{}, core.MalformedPayloadError(
			"paypal: event id is required",
			map[string]any{"provider_id": ProviderID},
		)
	}
	if strings.TrimSpace(envelope.EventType) == "" {
		return core.VerifiedEvent{}, core.MalformedPayloadError(
			"paypal: event_type is required",
			map[string]any{"provider_id": ProviderID, "event_id": envelope.ID},
		)
	}

	occurredAt := time.Time{}
	if trimmed := strings.TrimSpace(envelope.CreateTime); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return core.VerifiedEvent{}, core.WrapMalformedPayloadError(
				err,
				"paypal: parse create_time",
				map[string]any{"provider_id": ProviderID, "event_id": envelope.ID},
			)
		}
		occurredAt = parsed.UTC()
	}
	payload := envelope.Resource
	if payload == nil {
		payload = map[string]any{}
	}
	return core.VerifiedEvent{
		ProviderID: ProviderID,
		EventID:    envelope.ID,
		EventType:  envelope.EventType,
		Payload:    payload,
		OccurredAt: occurredAt,
	}, nil
}
