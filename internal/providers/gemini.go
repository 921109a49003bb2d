package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider calls Google's Gemini models through the generative-ai SDK.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini client authenticated with apiKey.
// endpoint overrides the API host and may be empty.
func NewGeminiProvider(ctx context.Context, apiKey, endpoint string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for Gemini provider")
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Type() string {
	return "gemini"
}

type geminiBody struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Usage    struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Run generates a completion. The body mirrors the Workers AI result shape
// so clients see one format regardless of backend.
func (p *GeminiProvider) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := p.client.GenerativeModel(req.Model).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := geminiBody{Response: candidateText(resp), Model: req.Model}
	if resp.UsageMetadata != nil {
		out.Usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.Usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return &Response{
		Body:            body,
		Text:            out.Response,
		TokenCount:      out.Usage.TotalTokens,
		ProviderLatency: time.Since(start),
	}, nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
