package handlers

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-billing-webhooks/core"
)

// stringField reads a required string out of a normalized payload. Missing
// or blank values are terminal: a redelivery carries the same payload.
func stringField(payload map[string]any, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", core.TerminalError(nil, fmt.Sprintf("handlers: payload field %q is missing", key))
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", core.TerminalError(nil, fmt.Sprintf("handlers: payload field %q is empty", key))
	}
	return value, nil
}

func optionalStringField(payload map[string]any, key string) string {
	if raw, ok := payload[key]; ok {
		if value, ok := raw.(string); ok {
			return value
		}
	}
	return ""
}

// amountField reads a money amount in minor units. JSON decoding hands us
// float64; provider amounts are integral cents so the conversion is exact.
func amountField(payload map[string]any, key string) (int64, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, core.TerminalError(nil, fmt.Sprintf("handlers: payload field %q is missing", key))
	}
	switch value := raw.(type) {
	case float64:
		return int64(value), nil
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	default:
		return 0, core.TerminalError(nil, fmt.Sprintf("handlers: payload field %q is not a number", key))
	}
}
