package providers

import (
	"context"
	"fmt"
	"time"
)

// Request is a single-prompt inference call.
type Request struct {
	Model  string
	Prompt string
}

// Response is a normalized provider response. Body is the JSON returned to
// the gateway client unchanged.
type Response struct {
	Body            []byte
	Text            string
	TokenCount      int
	ProviderLatency time.Duration
}

// Provider is implemented by each inference backend.
type Provider interface {
	// Type returns the provider type (workersai, openai, gemini)
	Type() string

	// Run sends the prompt and waits for the full completion. Callers bound
	// it with a context deadline.
	Run(ctx context.Context, req Request) (*Response, error)

	// Close performs cleanup when the provider is no longer needed
	Close() error
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}
