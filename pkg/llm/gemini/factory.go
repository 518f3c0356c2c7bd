package gemini

import (
	jsoniter "github.com/json-iterator/go"

	"sigil/pkg/config"
	"sigil/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Factory builds Gemini clients.
type Factory struct{}

// Create implements llm.ProviderFactory. Models and keys expand as a
// cartesian product, models first so fallback order stays model-major.
func (f *Factory) Create(group llm.ProviderGroupConfig, _ *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range group.Models {
		for _, key := range group.APIKeys {
			c, err := NewClient(key, model)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &Factory{})
}
