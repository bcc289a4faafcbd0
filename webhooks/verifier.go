package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-billing-webhooks/core"
)

type Verifier interface {
	Verify(ctx context.Context, n core.Notification) error
}

// HeaderHMACVerifier checks an HMAC-SHA256 signature carried in a single
// header, computed over the raw request body.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, n core.Notification) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.ConfigurationError(
			"webhooks: signature secret is required",
			map[string]any{"provider_id": n.ProviderID, "header": v.Header},
		)
	}
	header := strings.TrimSpace(HeaderValue(n.Headers, v.Header))
	if header == "" {
		return core.AuthenticationError(
			fmt.Sprintf("webhooks: %s signature header is required", strings.TrimSpace(v.Header)),
			map[string]any{"provider_id": n.ProviderID},
		)
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return core.AuthenticationError(
			"webhooks: signature value is required",
			map[string]any{"provider_id": n.ProviderID},
		)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(n.Body)
	expected := mac.Sum(nil)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return core.WrapAuthenticationError(
			err,
			"webhooks: decode signature",
			map[string]any{"provider_id": n.ProviderID},
		)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return core.AuthenticationError(
			"webhooks: signature verification failed",
			map[string]any{"provider_id": n.ProviderID},
		)
	}
	return nil
}

// HeaderTokenVerifier checks a static verification token carried in a header.
type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, n core.Notification) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return core.ConfigurationError(
			"webhooks: verification token is required",
			map[string]any{"provider_id": n.ProviderID, "header": v.Header},
		)
	}
	actual := strings.TrimSpace(HeaderValue(n.Headers, v.Header))
	if actual == "" {
		return core.AuthenticationError(
			fmt.Sprintf("webhooks: %s verification header is required", strings.TrimSpace(v.Header)),
			map[string]any{"provider_id": n.ProviderID},
		)
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return core.AuthenticationError(
			"webhooks: verification token mismatch",
			map[string]any{"provider_id": n.ProviderID},
		)
	}
	return nil
}

// HeaderValue performs a case-insensitive header lookup.
func HeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
