package ollama

import (
	"sigil/pkg/config"
	"sigil/pkg/llm"
)

// Factory builds Ollama clients.
type Factory struct{}

// Create implements llm.ProviderFactory. Ollama needs no API keys; one
// client per configured model.
func (f *Factory) Create(group llm.ProviderGroupConfig, _ *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range group.Models {
		c, err := NewClient(model, group.BaseURL, group.Options)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &Factory{})
}
