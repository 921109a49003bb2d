package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	workersAIDefaultBaseURL = "https://api.cloudflare.com/client/v4"
	workersAIModelNamespace = "@cf/meta/"
)

// WorkersAIProvider calls Cloudflare Workers AI text generation models over
// the REST API.
type WorkersAIProvider struct {
	client    *http.Client
	baseURL   string
	accountID string
	token     string
}

// NewWorkersAIProvider creates a Workers AI provider. baseURL may be empty.
func NewWorkersAIProvider(baseURL, accountID, token string) (*WorkersAIProvider, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required for Workers AI provider")
	}
	if token == "" {
		return nil, fmt.Errorf("api token is required for Workers AI provider")
	}
	if baseURL == "" {
		baseURL = workersAIDefaultBaseURL
	}
	return &WorkersAIProvider{
		client:    newHTTPClient(),
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		token:     token,
	}, nil
}

func (p *WorkersAIProvider) Type() string {
	return "workersai"
}

// modelPath expands a short model name into its catalog identifier.
func modelPath(model string) string {
	if strings.HasPrefix(model, "@") {
		return model
	}
	return workersAIModelNamespace + model
}

type workersAIEnvelope struct {
	Result  json.RawMessage `json:"result"`
	Success bool            `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type workersAIResult struct {
	Response string `json:"response"`
	Usage    struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Run returns the "result" object of the API envelope as the response body.
func (p *WorkersAIProvider) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", p.baseURL, p.accountID, modelPath(req.Model))

	body, err := postJSON(ctx, p.client, p.Type(), url, p.token, map[string]string{"prompt": req.Prompt})
	if err != nil {
		return nil, err
	}

	var env workersAIEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		msg := "unknown error"
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return nil, fmt.Errorf("workers ai error: %s", msg)
	}

	var result workersAIResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	tokens := result.Usage.TotalTokens
	if tokens == 0 {
		tokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}

	return &Response{
		Body:            env.Result,
		Text:            result.Response,
		TokenCount:      tokens,
		ProviderLatency: time.Since(start),
	}, nil
}

func (p *WorkersAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
