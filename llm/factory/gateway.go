package factory

import (
	"fmt"

	gwconfig "github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/llm"
	"go.uber.org/zap"
)

// NewGatewayProviders constructs one llm.Provider per (model, provider)
// pair in the gateway registry and registers it under the router's key.
// Construction failures are fatal: the provider graph was validated at
// config load, so anything failing here is a deployment problem worth
// refusing to start over.
func NewGatewayProviders(reg *gwconfig.Registry, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := llm.NewProviderRegistry()
	for _, model := range reg.Models {
		for name, p := range model.Providers {
			instance, err := NewProviderFromConfig(p.Type, gatewayProviderConfig(name, p), logger)
			if err != nil {
				return nil, fmt.Errorf("model %q provider %q: %w", model.Name, name, err)
			}
			providers.Register(router.ProviderKey(model.Name, name), instance)
		}
	}
	return providers, nil
}

// gatewayProviderConfig maps the registry's vendor-agnostic provider entry
// onto the factory's flat config. Well-known keys are lifted into the
// typed fields; everything else rides in Extra for the vendor case to
// interpret.
func gatewayProviderConfig(name string, p *gwconfig.Provider) ProviderConfig {
	cfg := ProviderConfig{
		APIKey: p.Credential.Reveal(),
		Extra:  map[string]any{"provider_name": name},
	}
	for k, v := range p.Extra {
		switch k {
		case "base_url", "api_base", "endpoint":
			cfg.BaseURL = v
		case "model_name", "model", "model_id":
			cfg.Model = v
		default:
			cfg.Extra[k] = v
		}
	}
	return cfg
}
