package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WebhookErrorAuthFailed       = "WEBHOOK_AUTH_FAILED"
	WebhookErrorMalformedPayload = "WEBHOOK_MALFORMED_PAYLOAD"
	WebhookErrorRetryable        = "WEBHOOK_RETRYABLE_FAILURE"
	WebhookErrorTerminal         = "WEBHOOK_TERMINAL_FAILURE"
	WebhookErrorStoreUnavailable = "WEBHOOK_STORE_UNAVAILABLE"
	WebhookErrorConfiguration    = "WEBHOOK_CONFIGURATION"
	WebhookErrorInternal         = "WEBHOOK_INTERNAL_ERROR"
)

// AuthenticationError marks a delivery whose signature is missing or does not
// match. No store writes happen for these.
func AuthenticationError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusBadRequest, WebhookErrorAuthFailed, metadata)
}

func WrapAuthenticationError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryAuth, message, http.StatusBadRequest, WebhookErrorAuthFailed, metadata)
}

// MalformedPayloadError marks a structurally invalid body: missing required
// fields or wrong encoding. Unknown event types are not malformed.
func MalformedPayloadError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, WebhookErrorMalformedPayload, metadata)
}

func WrapMalformedPayloadError(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryBadInput, message, http.StatusBadRequest, WebhookErrorMalformedPayload, metadata)
}

// RetryableError classifies a handler failure expected to succeed on a later
// delivery. The dispatcher releases the reservation so redelivery re-enters.
func RetryableError(source error, message string) error {
	return wrapError(source, goerrors.CategoryOperation, message, http.StatusServiceUnavailable, WebhookErrorRetryable, nil)
}

// TerminalError classifies a handler failure that will never succeed on
// retry. The reservation is finalized failed and the event is not retried.
func TerminalError(source error, message string) error {
	return wrapError(source, goerrors.CategoryOperation, message, http.StatusOK, WebhookErrorTerminal, nil)
}

// StoreUnavailableError is the fail-closed envelope for ledger outages: the
// response must make the sender redeliver later.
func StoreUnavailableError(source error, message string) error {
	return wrapError(source, goerrors.CategoryOperation, message, http.StatusServiceUnavailable, WebhookErrorStoreUnavailable, nil)
}

// ConfigurationError is operational, not a request-handling outcome: for
// example a provider with no shared secret configured.
func ConfigurationError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, WebhookErrorConfiguration, metadata)
}

func InternalError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, WebhookErrorInternal, metadata)
}

func IsAuthenticationError(err error) bool {
	return hasTextCode(err, WebhookErrorAuthFailed)
}

func IsMalformedPayloadError(err error) bool {
	return hasTextCode(err, WebhookErrorMalformedPayload)
}

// IsRetryable reports whether a handler error should release the reservation.
// Unclassified errors are retryable: a transient fault misclassified as
// terminal would permanently drop the event, the reverse only costs a replay
// that dedup absorbs.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, WebhookErrorTerminal) {
		return false
	}
	return true
}

func IsTerminal(err error) bool {
	return hasTextCode(err, WebhookErrorTerminal)
}

func IsStoreUnavailable(err error) bool {
	return hasTextCode(err, WebhookErrorStoreUnavailable)
}

func IsConfigurationError(err error) bool {
	return hasTextCode(err, WebhookErrorConfiguration)
}

// HTTPStatus extracts the response status carried by a classified error,
// falling back to 500 for anything unclassified.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
}

func newError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
