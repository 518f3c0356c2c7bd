package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"sigil/pkg/llm"
	"sigil/pkg/state"
)

// Client is the Google Gemini API client.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini client bound to one model and API key.
func NewClient(apiKey, model string) (*Client, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Provider implements llm.Client.
func (g *Client) Provider() string { return "gemini" }

// Generate implements llm.Client.
func (g *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	contents := convertHistory(req.History)
	if req.Prompt != "" {
		contents = append(contents, &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.Prompt}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		cfg.Tools = tools
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &llm.Response{}, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			slog.DebugContext(ctx, "Gemini tool call", "name", part.FunctionCall.Name)
			return &llm.Response{ToolCall: &llm.ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}}, nil
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return &llm.Response{Text: text.String()}, nil
}

// convertHistory maps the transcript to GenAI contents. Gemini has no
// tool role; observations travel as function responses under the user
// role.
func convertHistory(history []state.HistoryEntry) []*genai.Content {
	var contents []*genai.Content
	for _, entry := range history {
		role := "user"
		if entry.Role == state.RoleModel {
			role = "model"
		}

		var parts []*genai.Part
		for _, p := range entry.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: p.FunctionCall.Name,
						Args: p.FunctionCall.Args,
					},
				})
			case p.FunctionResponse != nil:
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     p.FunctionResponse.Name,
						Response: map[string]any{"result": p.FunctionResponse.Response},
					},
				})
			case p.Text != "":
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents
}

func convertTools(schemas []llm.ToolSchema) []*genai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	var fds []*genai.FunctionDeclaration
	for _, t := range schemas {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if t.Parameters != nil {
			schemaB, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			if err := json.Unmarshal(schemaB, &schema); err == nil {
				fd.Parameters = &schema
			}
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

// IsTransientError implements llm.Client.
func (g *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// 503 Service Unavailable / model overloaded
	if strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") {
		return true
	}
	// 429 rate limit
	if strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") {
		return true
	}
	// Occasional Gemini 500s
	if strings.Contains(msg, "500") || strings.Contains(msg, "internal error") {
		return true
	}
	return false
}
