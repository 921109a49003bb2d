package providers

import (
	"context"
	"fmt"

	"github.com/wanz-bot/Api/internal/config"
)

// New builds the provider selected by cfg.Type.
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderWorkersAI:
		return NewWorkersAIProvider(cfg.BaseURL, cfg.AccountID, cfg.APIKey)
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey)
	case config.ProviderGemini:
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}
