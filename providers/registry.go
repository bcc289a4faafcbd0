package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Codec is one provider's strategy pair: how its deliveries are
// authenticated and how its payloads normalize into a VerifiedEvent.
type Codec interface {
	ProviderID() string
	Verify(ctx context.Context, n core.Notification) error
	Parse(body []byte) (core.VerifiedEvent, error)
}

// Registry maps provider tags to codecs. Immutable after construction.
type Registry struct {
	codecs map[string]Codec
}

func NewRegistry(codecs ...Codec) (*Registry, error) {
	registry := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, codec := range codecs {
		if codec == nil {
			return nil, core.InternalError("providers: codec is nil", nil)
		}
		providerID := strings.ToLower(strings.TrimSpace(codec.ProviderID()))
		if providerID == "" {
			return nil, core.InternalError("providers: codec provider id is required", nil)
		}
		if _, exists := registry.codecs[providerID]; exists {
			return nil, goerrors.New(
				fmt.Sprintf("providers: codec already registered for provider %q", providerID),
				goerrors.CategoryConflict,
			).WithCode(http.StatusConflict).WithTextCode(core.WebhookErrorConfiguration)
		}
		registry.codecs[providerID] = codec
	}
	return registry, nil
}

func (r *Registry) Resolve(providerID string) (Codec, error) {
	if r == nil {
		return nil, core.InternalError("providers: registry is nil", nil)
	}
	codec, ok := r.codecs[strings.ToLower(strings.TrimSpace(providerID))]
	if !ok {
		return nil, goerrors.New(
			fmt.Sprintf("providers: unknown provider %q", providerID),
			goerrors.CategoryNotFound,
		).WithCode(http.StatusNotFound).WithTextCode(core.WebhookErrorConfiguration)
	}
	return codec, nil
}

func (r *Registry) ProviderIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.codecs))
	for id := range r.codecs {
		ids = append(ids, id)
	}
	return ids
}
