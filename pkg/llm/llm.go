package llm

import (
	"context"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"sigil/pkg/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolSchema describes one callable tool for the model: name, purpose
// and a JSON-Schema object for its arguments.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one generation call: an optional fresh prompt, the
// conversation transcript and the tools the model may invoke.
type Request struct {
	System  string
	Prompt  string
	History []state.HistoryEntry
	Tools   []ToolSchema
}

// ToolCall is the model asking for a tool to be run.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Response is the model's answer to a Request. When ToolCall is set the
// turn is not finished; Text carries the final answer otherwise.
type Response struct {
	Text     string
	ToolCall *ToolCall
}

// Client is the narrow surface the reasoning engine depends on.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Provider() string
	// IsTransientError reports whether err is worth retrying
	// (rate limits, overload, transient 5xx).
	IsTransientError(err error) bool
}

// FallbackClient tries each configured client in order until one
// produces a response. Individual clients handle their own retries.
type FallbackClient struct {
	Clients []Client
}

// Generate implements Client.
func (f *FallbackClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "Previous provider failed, trying fallback",
				"provider", client.Provider(), "attempt", i+1)
		}
		resp, err := client.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.ErrorContext(ctx, "Provider failed", "provider", client.Provider(), "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// Provider implements Client.
func (f *FallbackClient) Provider() string { return "fallback" }

// IsTransientError implements Client. A FallbackClient error means
// every child already exhausted its retries.
func (f *FallbackClient) IsTransientError(err error) bool { return false }
