// Package llm provides rate-limited chat-completion clients for the
// providers used in screening: Anthropic, OpenAI and Gemini.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"litreview/internal/logging"
)

// Client sends one system+user prompt and returns the completion.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
	Provider() string
	Model() string
}

// Completion is the text and token usage of one call.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Config configures any provider client.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxTokens         int
	MaxRetries        int
}

var (
	// ErrNoAPIKey is returned when a client is built without credentials.
	ErrNoAPIKey = errors.New("API key not configured")
	// ErrUnknownProvider is returned for provider names outside Providers.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const (
	defaultTimeout    = 2 * time.Minute
	defaultMaxTokens  = 1024
	defaultMaxRetries = 3
)

// retryBaseDelay is the first backoff step; it doubles per attempt.
var retryBaseDelay = time.Second

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// newLimiter paces requests. A non-positive rate means unlimited.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type retryable interface{ Retryable() bool }

// transientError marks transport failures that should be retried.
type transientError struct{ err error }

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Retryable() bool { return true }

// withRetry runs attempt up to maxRetries+1 times with exponential backoff,
// waiting on the limiter before each try.
func withRetry(ctx context.Context, name string, limiter *rate.Limiter, maxRetries int, attempt func(context.Context) (*Completion, error)) (*Completion, error) {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(i-1))
			logging.LLMWarn("[%s] retry %d/%d in %v: %v", name, i, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		out, err := attempt(ctx)
		if err == nil {
			return out, nil
		}
		var r retryable
		if !errors.As(err, &r) || !r.Retryable() {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// withDeadline applies the client timeout when ctx has no deadline.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
