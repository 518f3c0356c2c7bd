package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"sigil/pkg/llm"
	"sigil/pkg/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the Ollama API client for locally hosted models.
type Client struct {
	client  *api.Client
	model   string
	options map[string]any
}

// NewClient creates an Ollama client. An empty baseURL falls back to
// the OLLAMA_HOST environment variable.
func NewClient(model, baseURL string, options map[string]any) (*Client, error) {
	var client *api.Client
	var err error

	if baseURL != "" {
		u, perr := url.Parse(baseURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid base URL: %w", perr)
		}
		client = api.NewClient(u, nil)
	} else {
		client, err = api.ClientFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)
	return &Client{client: client, model: model, options: options}, nil
}

// Provider implements llm.Client.
func (o *Client) Provider() string { return "ollama" }

// Generate implements llm.Client.
func (o *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	messages := convertHistory(req.System, req.History)
	if req.Prompt != "" {
		messages = append(messages, api.Message{Role: "user", Content: req.Prompt})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Options:  o.options,
		Tools:    convertTools(req.Tools),
		Stream:   &stream,
	}

	var out llm.Response
	err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if len(resp.Message.ToolCalls) > 0 {
			tc := resp.Message.ToolCalls[0]
			args := map[string]any{}
			argsB, merr := json.Marshal(tc.Function.Arguments)
			if merr == nil {
				if uerr := json.Unmarshal(argsB, &args); uerr != nil {
					slog.WarnContext(ctx, "Failed to decode tool call arguments", "provider", "ollama", "error", uerr)
				}
			}
			out.ToolCall = &llm.ToolCall{Name: tc.Function.Name, Args: args}
			return nil
		}
		out.Text += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// convertHistory maps the transcript to Ollama chat messages. Tool call
// pairing uses synthesized call IDs since the transcript does not keep
// provider IDs.
func convertHistory(system string, history []state.HistoryEntry) []api.Message {
	var messages []api.Message
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}

	var lastCallID string
	for i, entry := range history {
		role := entry.Role
		if role == state.RoleModel {
			role = "assistant"
		}

		msg := api.Message{Role: role}
		for _, p := range entry.Parts {
			switch {
			case p.FunctionCall != nil:
				lastCallID = fmt.Sprintf("call_%d", i)
				var apiArgs api.ToolCallFunctionArguments
				if argsB, err := json.Marshal(p.FunctionCall.Args); err == nil {
					if uerr := json.Unmarshal(argsB, &apiArgs); uerr != nil {
						slog.Warn("Failed to convert tool arguments for history", "provider", "ollama", "error", uerr)
					}
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: lastCallID,
					Function: api.ToolCallFunction{
						Name:      p.FunctionCall.Name,
						Arguments: apiArgs,
					},
				})
			case p.FunctionResponse != nil:
				msg.Content = p.FunctionResponse.Response
				msg.ToolCallID = lastCallID
			case p.Text != "":
				msg.Content += p.Text
			}
		}

		if msg.Content != "" || len(msg.ToolCalls) > 0 {
			messages = append(messages, msg)
		}
	}
	return messages
}

// convertTools goes through JSON to bridge the SDK's schema types.
func convertTools(schemas []llm.ToolSchema) []api.Tool {
	if len(schemas) == 0 {
		return nil
	}
	raw := make([]map[string]any, 0, len(schemas))
	for _, t := range schemas {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}

	var tools []api.Tool
	rawB, err := json.Marshal(raw)
	if err != nil {
		slog.Error("Failed to marshal tools", "provider", "ollama", "error", err)
		return nil
	}
	if err := json.Unmarshal(rawB, &tools); err != nil {
		slog.Error("Failed to unmarshal to api.Tool", "provider", "ollama", "error", err)
		return nil
	}
	return tools
}

// IsTransientError implements llm.Client.
func (o *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return true
	}
	if strings.Contains(strings.ToLower(msg), "overloaded") {
		return true
	}
	return false
}
