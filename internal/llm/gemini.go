package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"litreview/internal/logging"
)

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	cfg     Config
	client  *genai.Client
	limiter *rate.Limiter
}

// NewGeminiClient builds a client. BaseURL overrides the API endpoint.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (c *GeminiClient) Provider() string { return ProviderGemini }
func (c *GeminiClient) Model() string    { return c.cfg.Model }

// Complete generates content at temperature 0 with the system instruction.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	ctx, cancel := withDeadline(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	logging.LLMDebug("[Gemini] Complete: model=%s system_len=%d user_len=%d", c.cfg.Model, len(systemPrompt), len(userPrompt))

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: int32(c.cfg.MaxTokens),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		gc.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	out, err := withRetry(ctx, "Gemini", c.limiter, c.cfg.MaxRetries, func(ctx context.Context) (*Completion, error) {
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, gc)
		if err != nil {
			return nil, classifyGenAIError(ctx, err)
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return nil, fmt.Errorf("no completion returned")
		}
		comp := &Completion{Text: text, Model: c.cfg.Model}
		if resp.UsageMetadata != nil {
			comp.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			comp.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		return comp, nil
	})
	if err != nil {
		logging.LLMError("[Gemini] Complete failed after %v: %v", time.Since(start), err)
		return nil, err
	}
	logging.LLMDebug("[Gemini] Complete: done in %v tokens=%d/%d", time.Since(start), out.InputTokens, out.OutputTokens)
	return out, nil
}

func classifyGenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &StatusError{Code: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return &transientError{err}
}
