package llm

import (
	"sigil/pkg/config"
)

// ProviderGroupConfig configures one group of models from a single
// provider. A group expands into one atomic client per model/key pair.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds atomic clients from a group config.
type ProviderFactory interface {
	Create(group ProviderGroupConfig, system *config.SystemConfig) ([]Client, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider makes a factory available to NewFromConfig under
// the given type name.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered factory.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
