package core

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Ledger.TTL != 72*time.Hour {
		t.Fatalf("expected 72h default ledger ttl, got %s", cfg.Ledger.TTL)
	}
}

func TestConfigValidateRejectsEmptySecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"stripe": {Secret: "   "},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure for blank provider secret")
	}
}

func TestConfigSecretLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"stripe": {Secret: "whsec_test"},
	}

	secret, err := cfg.Secret("stripe")
	if err != nil {
		t.Fatalf("secret lookup: %v", err)
	}
	if secret != "whsec_test" {
		t.Fatalf("unexpected secret %q", secret)
	}

	if _, err := cfg.Secret("paypal"); err == nil {
		t.Fatalf("expected configuration error for unknown provider")
	} else if !IsConfigurationError(err) {
		t.Fatalf("expected configuration classification, got %v", err)
	}
}

func TestCfgxConfigProviderMergesOverDefaults(t *testing.T) {
	provider := NewCfgxConfigProvider(NewStaticRawConfigLoader(map[string]any{
		"service_name": "billing-webhooks-test",
		"http": map[string]any{
			"listen_addr": ":9090",
		},
	}))

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "billing-webhooks-test" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.ListenAddr != ":9090" {
		t.Fatalf("expected loaded listen addr, got %q", cfg.HTTP.ListenAddr)
	}
	if cfg.HTTP.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected default max body bytes preserved, got %d", cfg.HTTP.MaxBodyBytes)
	}
}
