package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

const (
	// DefaultLedgerTTL must exceed every supported sender's maximum retry
	// window. Stripe retries for up to 72 hours.
	DefaultLedgerTTL = 72 * time.Hour

	DefaultPurgeInterval = time.Hour
	DefaultListenAddr    = ":8080"
	DefaultMaxBodyBytes  = 1 << 20
)

type ProviderConfig struct {
	Secret string `koanf:"secret" mapstructure:"secret"`
}

type HTTPConfig struct {
	ListenAddr   string `koanf:"listen_addr" mapstructure:"listen_addr"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type LedgerConfig struct {
	TTL           time.Duration `koanf:"ttl" mapstructure:"ttl"`
	PurgeInterval time.Duration `koanf:"purge_interval" mapstructure:"purge_interval"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig                `koanf:"http" mapstructure:"http"`
	Ledger      LedgerConfig              `koanf:"ledger" mapstructure:"ledger"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "billing-webhooks",
		HTTP: HTTPConfig{
			ListenAddr:   DefaultListenAddr,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Ledger: LedgerConfig{
			TTL:           DefaultLedgerTTL,
			PurgeInterval: DefaultPurgeInterval,
		},
		Providers: map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.HTTP.ListenAddr) == "" {
		return fmt.Errorf("core: http.listen_addr is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: http.max_body_bytes must be positive")
	}
	if c.Ledger.TTL <= 0 {
		return fmt.Errorf("core: ledger.ttl must be positive")
	}
	if c.Ledger.PurgeInterval <= 0 {
		return fmt.Errorf("core: ledger.purge_interval must be positive")
	}
	for providerID, provider := range c.Providers {
		if strings.TrimSpace(providerID) == "" {
			return fmt.Errorf("core: provider id must not be empty")
		}
		if strings.TrimSpace(provider.Secret) == "" {
			return fmt.Errorf("core: providers.%s.secret is required", providerID)
		}
	}
	return nil
}

// Secret returns the shared secret configured for a provider, or a
// configuration error when the provider has none. The distinction matters:
// a missing secret is an operational fault, not an authentication outcome.
func (c Config) Secret(providerID string) (string, error) {
	provider, ok := c.Providers[strings.TrimSpace(providerID)]
	if !ok || strings.TrimSpace(provider.Secret) == "" {
		return "", ConfigurationError(
			fmt.Sprintf("core: no webhook secret configured for provider %q", providerID),
			map[string]any{"provider_id": providerID},
		)
	}
	return provider.Secret, nil
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticRawConfigLoader wraps literal values, mainly for tests and
// embedded wiring.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
