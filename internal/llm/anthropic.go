package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"litreview/internal/logging"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient builds a client; BaseURL defaults to the public API.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrNoAPIKey)
	}
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (c *AnthropicClient) Provider() string { return ProviderAnthropic }
func (c *AnthropicClient) Model() string    { return c.cfg.Model }

// Complete sends one message at temperature 0.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	ctx, cancel := withDeadline(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	logging.LLMDebug("[Anthropic] Complete: model=%s system_len=%d user_len=%d", c.cfg.Model, len(systemPrompt), len(userPrompt))

	zero := 0.0
	body, err := json.Marshal(anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: userPrompt}},
		Temperature: &zero,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := withRetry(ctx, "Anthropic", c.limiter, c.cfg.MaxRetries, func(ctx context.Context) (*Completion, error) {
		return c.do(ctx, body)
	})
	if err != nil {
		logging.LLMError("[Anthropic] Complete failed after %v: %v", time.Since(start), err)
		return nil, err
	}
	logging.LLMDebug("[Anthropic] Complete: done in %v tokens=%d/%d", time.Since(start), out.InputTokens, out.OutputTokens)
	return out, nil
}

func (c *AnthropicClient) do(ctx context.Context, body []byte) (*Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var ar anthropicResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if ar.Error != nil {
		return nil, fmt.Errorf("API error: %s", ar.Error.Message)
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	// Pricing is keyed by the configured model name.
	return &Completion{
		Text:         strings.TrimSpace(text.String()),
		Model:        c.cfg.Model,
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
	}, nil
}
