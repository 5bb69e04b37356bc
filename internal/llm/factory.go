package llm

import (
	"context"
	"fmt"
	"strings"

	"litreview/internal/config"
)

// New builds the client named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	var (
		c   Client
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderAnthropic:
		c, err = NewAnthropicClient(cfg)
	case ProviderOpenAI:
		c, err = NewOpenAIClient(cfg)
	case ProviderGemini:
		c, err = NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownProvider, cfg.Provider,
			strings.Join(config.ValidProviders, ", "))
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConfigFrom maps the application config onto a client config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Provider:          c.LLM.Provider,
		APIKey:            c.LLM.APIKey,
		Model:             c.LLM.Model,
		BaseURL:           c.LLM.BaseURL,
		Timeout:           c.GetLLMTimeout(),
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		MaxTokens:         c.LLM.MaxTokens,
	}
}
