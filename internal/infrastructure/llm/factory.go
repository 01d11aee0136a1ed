package llm

import (
	"context"
	"fmt"
	"net/http"

	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/ports"
)

// New builds the configured provider wrapped with pacing.
func New(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (ports.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm provider %s: api key is not configured", cfg.Provider)
	}

	var provider ports.LLM
	switch cfg.Provider {
	case "", "openai":
		provider = NewOpenAIClient(cfg.Endpoint, cfg.Model, cfg.APIKey, httpClient)
	case "claude":
		provider = NewClaudeClient(cfg.APIKey, cfg.Model)
	case "gemini":
		client, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		provider = client
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return NewLimited(provider, cfg.RequestsPerMinute, cfg.Timeout), nil
}
