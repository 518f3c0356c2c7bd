package openailm

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"sigil/pkg/llm"
	"sigil/pkg/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps the official OpenAI Go SDK. With a custom base URL it
// also serves any OpenAI-compatible endpoint.
type Client struct {
	client   *openai.Client
	provider string
	model    string
}

// NewClient creates an OpenAI-compatible client.
func NewClient(provider, apiKey, model, baseURL string) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client, provider: provider, model: model}, nil
}

// Provider implements llm.Client.
func (c *Client) Provider() string { return c.provider }

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	items := convertHistory(req.System, req.History)
	if req.Prompt != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(
			req.Prompt, responses.EasyInputMessageRoleUser))
	}

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, err
	}

	for _, item := range resp.Output {
		if item.Type == "function_call" {
			args := map[string]any{}
			if item.Arguments != "" {
				if uerr := json.Unmarshal([]byte(item.Arguments), &args); uerr != nil {
					args = map[string]any{}
				}
			}
			return &llm.Response{ToolCall: &llm.ToolCall{Name: item.Name, Args: args}}, nil
		}
	}
	return &llm.Response{Text: resp.OutputText()}, nil
}

// convertHistory maps the transcript to Responses API input items.
// Call IDs are synthesized per entry; the observation that follows a
// call reuses the same ID.
func convertHistory(system string, history []state.HistoryEntry) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(history)+1)
	if system != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(
			system, responses.EasyInputMessageRoleSystem))
	}

	var lastCallID string
	for i, entry := range history {
		for _, p := range entry.Parts {
			switch {
			case p.FunctionCall != nil:
				lastCallID = callID(i)
				argsB, _ := json.Marshal(p.FunctionCall.Args)
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					string(argsB), lastCallID, p.FunctionCall.Name))
			case p.FunctionResponse != nil:
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
					lastCallID, p.FunctionResponse.Response))
			case p.Text != "":
				role := responses.EasyInputMessageRoleUser
				if entry.Role == state.RoleModel {
					role = responses.EasyInputMessageRoleAssistant
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(p.Text, role))
			}
		}
	}
	return items
}

func callID(i int) string {
	return fmt.Sprintf("call_%d", i)
}

func convertTools(schemas []llm.ToolSchema) []responses.ToolUnionParam {
	var tools []responses.ToolUnionParam
	for _, t := range schemas {
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return tools
}

// IsTransientError implements llm.Client.
func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}
	// Server-side temporary failures
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429") {
		return true
	}
	// 400/401 and friends are not worth retrying
	return false
}
