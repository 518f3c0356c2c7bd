package openailm

import (
	"sigil/pkg/config"
	"sigil/pkg/llm"
)

// Factory builds OpenAI-compatible clients. It registers under both
// "openai" and "openai_compatible" so self-hosted gateways can reuse
// the same implementation with a custom base URL.
type Factory struct {
	ProviderName string
}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(group llm.ProviderGroupConfig, _ *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range group.Models {
		for _, key := range group.APIKeys {
			c, err := NewClient(f.ProviderName, key, model, group.BaseURL)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{ProviderName: "openai"})
	llm.RegisterProvider("openai_compatible", &Factory{ProviderName: "openai_compatible"})
}
