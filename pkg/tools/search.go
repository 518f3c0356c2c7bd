package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sigil/pkg/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const duckDuckGoEndpoint = "https://api.duckduckgo.com/"

type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// NewSearchTool queries the DuckDuckGo instant answer API. baseURL
// overrides the endpoint for tests; empty means the public API.
func NewSearchTool(httpClient *http.Client, baseURL string) Descriptor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = duckDuckGoEndpoint
	}

	return Descriptor{
		Name:        "web_search",
		Description: "Look up a factual query on the web and return a short answer.",
		Schema: Schema{
			Properties: []Property{
				{Name: "query", Type: "string", Description: "The search query."},
			},
			Required: []string{"query"},
		},
		Execute: func(ctx context.Context, _ *state.ConversationContext, args map[string]any) (string, error) {
			query, _ := args["query"].(string)

			u := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1",
				baseURL, url.QueryEscape(query))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return "", err
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return "", fmt.Errorf("search request: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("search returned status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return "", err
			}

			var ans instantAnswer
			if err := json.Unmarshal(body, &ans); err != nil {
				return "", fmt.Errorf("decode search response: %w", err)
			}

			switch {
			case ans.Answer != "":
				return ans.Answer, nil
			case ans.AbstractText != "":
				return ans.AbstractText, nil
			case len(ans.RelatedTopics) > 0 && ans.RelatedTopics[0].Text != "":
				return ans.RelatedTopics[0].Text, nil
			}
			return "No results found for: " + query, nil
		},
	}
}
