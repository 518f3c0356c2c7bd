package llm

import (
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sigil/pkg/config"
)

// NewFromConfig builds the model client the engine talks to. Every
// atomic client gets retry handling; multiple clients are chained into
// a FallbackClient in configuration order.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (Client, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("parse 'llm' config: %w", err)
	}

	retryDelay := time.Duration(system.RetryDelayMs) * time.Millisecond
	var clients []Client

	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type, skipping", "type", group.Type)
			continue
		}

		atomic, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create provider clients", "type", group.Type, "error", err)
			continue
		}

		for _, c := range atomic {
			clients = append(clients, NewRetryClient(c, system.MaxRetries, retryDelay))
		}
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("LLM clients initialized", "count", len(clients))

	if len(clients) == 1 {
		return clients[0], nil
	}
	return &FallbackClient{Clients: clients}, nil
}
