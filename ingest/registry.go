package ingest

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

// HandlerRegistry maps event-type patterns to handlers. Patterns are either
// exact types ("invoice.paid") or a dotted prefix with a trailing wildcard
// ("invoice.*"). The table is built at startup and owned by the dispatcher;
// it is never mutated at runtime.
type HandlerRegistry struct {
	mu       sync.RWMutex
	exact    map[string]core.Handler
	prefixes map[string]core.Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		exact:    map[string]core.Handler{},
		prefixes: map[string]core.Handler{},
	}
}

func (r *HandlerRegistry) Register(pattern string, handler core.Handler) error {
	if r == nil {
		return core.InternalError("ingest: handler registry is nil", nil)
	}
	if handler == nil {
		return core.InternalError("ingest: handler is nil", map[string]any{"pattern": pattern})
	}
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return core.InternalError("ingest: handler pattern is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		if prefix == "" {
			return core.InternalError("ingest: wildcard pattern needs a prefix", map[string]any{"pattern": pattern})
		}
		if _, exists := r.prefixes[prefix]; exists {
			return registryConflict(pattern)
		}
		r.prefixes[prefix] = handler
		return nil
	}
	if _, exists := r.exact[pattern]; exists {
		return registryConflict(pattern)
	}
	r.exact[pattern] = handler
	return nil
}

// Resolve finds the handler for an event type: exact match first, then the
// longest registered wildcard prefix.
func (r *HandlerRegistry) Resolve(eventType string) (core.Handler, bool) {
	if r == nil {
		return nil, false
	}
	eventType = strings.ToLower(strings.TrimSpace(eventType))

	r.mu.RLock()
	defer r.mu.RUnlock()
	if handler, ok := r.exact[eventType]; ok {
		return handler, true
	}
	var best core.Handler
	bestLen := -1
	for prefix, handler := range r.prefixes {
		if !strings.HasPrefix(eventType, prefix+".") && eventType != prefix {
			continue
		}
		if len(prefix) > bestLen {
			best = handler
			bestLen = len(prefix)
		}
	}
	return best, best != nil
}

func registryConflict(pattern string) error {
	return goerrors.New(
		fmt.Sprintf("ingest: handler already registered for pattern %q", pattern),
		goerrors.CategoryConflict,
	).WithCode(http.StatusConflict).WithTextCode(core.WebhookErrorConfiguration)
}
