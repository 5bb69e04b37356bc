package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litreview/internal/config"
	"litreview/internal/usage"
)

func init() {
	retryBaseDelay = time.Millisecond
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"claude-x-dated","content":[{"type":"text","text":" {\"decision\":\"INCLUDE\"} "}],"usage":{"input_tokens":120,"output_tokens":30}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-x"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"INCLUDE"}`, out.Text)
	assert.Equal(t, "claude-x", out.Model)
	assert.Equal(t, 120, out.InputTokens)
	assert.Equal(t, 30, out.OutputTokens)

	assert.Equal(t, "system text", got.System)
	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":7,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "sys", "usr")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, "gpt-4o", out.Model)
	assert.Equal(t, 7, out.InputTokens)

	// temperature 0 must be sent, not omitted
	temp, ok := raw["temperature"]
	require.True(t, ok)
	assert.Equal(t, 0.0, temp)
	assert.Len(t, raw["messages"], 2)
}

func TestRetryOnRateLimitThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"done"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Equal(t, "done", out.Text)
	assert.EqualValues(t, 3, calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", "x")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.EqualValues(t, 3, calls.Load())
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "anthropic"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = New(context.Background(), Config{Provider: "llama", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	c, err := New(context.Background(), Config{Provider: "OpenAI", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, c.Provider())
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "k"
	cfg.LLM.Timeout = "30s"
	lc := ConfigFrom(cfg)
	assert.Equal(t, 30*time.Second, lc.Timeout)
	assert.Equal(t, cfg.LLM.Model, lc.Model)
	assert.Equal(t, cfg.LLM.RequestsPerSecond, lc.RequestsPerSecond)
}

type stubClient struct {
	out *Completion
	err error
}

func (s *stubClient) Complete(context.Context, string, string) (*Completion, error) { return s.out, s.err }
func (s *stubClient) Provider() string                                              { return "anthropic" }
func (s *stubClient) Model() string                                                 { return "claude-sonnet-4-5-20250929" }

func TestTrackingClientRecordsUsage(t *testing.T) {
	tracker, err := usage.NewTrackerAt(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })

	stub := &stubClient{out: &Completion{Text: "x", Model: "claude-sonnet-4-5-20250929", InputTokens: 1000, OutputTokens: 500}}
	tc := NewTrackingClient(stub, tracker, nil, "screen")
	_, err = tc.Complete(context.Background(), "", "")
	require.NoError(t, err)

	stats := tracker.Stats()
	assert.EqualValues(t, 1, stats.ByOperation["screen"].Calls)
	assert.Equal(t, "0.0105", stats.TotalProject.Cost.String())

	stub.err = errors.New("boom")
	stub.out = nil
	_, err = tc.Complete(context.Background(), "", "")
	assert.Error(t, err)
	assert.EqualValues(t, 1, tracker.Stats().TotalProject.Calls)
}
