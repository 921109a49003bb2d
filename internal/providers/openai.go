package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(baseURL, apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for OpenAI provider")
	}
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAIProvider{
		client:  newHTTPClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}, nil
}

func (p *OpenAIProvider) Type() string {
	return "openai"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Run sends the prompt as a single user message.
func (p *OpenAIProvider) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	payload := map[string]any{
		"model":    req.Model,
		"messages": []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	body, err := postJSON(ctx, p.client, p.Type(), p.baseURL+"/chat/completions", p.apiKey, payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}

	return &Response{
		Body:            body,
		Text:            text,
		TokenCount:      extractUsageFromResponse(body).Total(),
		ProviderLatency: time.Since(start),
	}, nil
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// UsageInfo contains token usage information from a response
type UsageInfo struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Total prefers the reported total and falls back to input+output.
func (u *UsageInfo) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// extractUsageFromResponse accepts both the chat completions field names and
// the newer input/output names.
func extractUsageFromResponse(body []byte) *UsageInfo {
	var response struct {
		Usage struct {
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			TotalTokens      int `json:"total_tokens"`
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return &UsageInfo{}
	}

	usage := &UsageInfo{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		TotalTokens:  response.Usage.TotalTokens,
	}
	if usage.InputTokens == 0 {
		usage.InputTokens = response.Usage.PromptTokens
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = response.Usage.CompletionTokens
	}
	return usage
}
