package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

const (
	ProviderID = "stripe"

	// SignatureHeader carries the Stripe signature scheme:
	// t=<unix>,v1=<hex hmac>[,v1=<hex hmac>...]
	// The hmac is computed over "<t>.<raw body>".
	SignatureHeader = "Stripe-Signature"

	defaultTolerance = 5 * time.Minute
)

type Config struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

type Codec struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewCodec(cfg Config) *Codec {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Codec{
		secret:    strings.TrimSpace(cfg.Secret),
		tolerance: tolerance,
		now:       now,
	}
}

func (c *Codec) ProviderID() string {
	return ProviderID
}

func (c *Codec) Verify(_ context.Context, n core.Notification) error {
	if c == nil || c.secret == "" {
		return core.ConfigurationError(
			"stripe: webhook secret is required",
			map[string]any{"provider_id": ProviderID},
		)
	}
	header := strings.TrimSpace(webhooks.HeaderValue(n.Headers, SignatureHeader))
	if header == "" {
		return core.AuthenticationError(
			fmt.Sprintf("stripe: %s header is required", SignatureHeader),
			map[string]any{"provider_id": ProviderID},
		)
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	delta := c.now().UTC().Sub(time.Unix(timestamp, 0).UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > c.tolerance {
		return core.AuthenticationError(
			"stripe: signature timestamp outside tolerance",
			map[string]any{"provider_id": ProviderID, "timestamp": timestamp},
		)
	}

	mac := hmac.New(sha256.New, []byte(c.secret))
	_, _ = fmt.Fprintf(mac, "%d.", timestamp)
	_, _ = mac.Write(n.Body)
	expected := mac.Sum(nil)

	for _, signature := range signatures {
		decoded, decodeErr := hex.DecodeString(signature)
		if decodeErr != nil {
			continue
		}
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return core.AuthenticationError(
		"stripe: signature verification failed",
		map[string]any{"provider_id": ProviderID},
	)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64
	var signatures []string
	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, core.WrapAuthenticationError(
					err,
					"stripe: parse signature timestamp",
					map[string]any{"provider_id": ProviderID},
				)
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, core.AuthenticationError(
			"stripe: signature header is missing t or v1 components",
			map[string]any{"provider_id": ProviderID},
		)
	}
	return timestamp, signatures, nil
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

// Parse normalizes a Stripe event envelope. Unknown event types parse
// successfully with the type preserved verbatim.
func (c *Codec) Parse(body []byte) (core.VerifiedEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.VerifiedEvent{}, core.WrapMalformedPayloadError(
			err,
			"stripe: decode event envelope",
			map[string]any{"provider_id": ProviderID},
		)
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return core.VerifiedEvent{}, core.MalformedPayloadError(
			"stripe: event id is required",
			map[string]any{"provider_id": ProviderID},
		)
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return core.VerifiedEvent{}, core.MalformedPayloadError(
			"stripe: event type is required",
			map[string]any{"provider_id": ProviderID, "event_id": envelope.ID},
		)
	}

	occurredAt := time.Time{}
	if envelope.Created > 0 {
		occurredAt = time.Unix(envelope.Created, 0).UTC()
	}
	payload := envelope.Data.Object
	if payload == nil {
		payload = map[string]any{}
	}
	return core.VerifiedEvent{
		ProviderID: ProviderID,
		EventID:    envelope.ID,
		EventType:  envelope.Type,
		Payload:    payload,
		OccurredAt: occurredAt,
	}, nil
}
