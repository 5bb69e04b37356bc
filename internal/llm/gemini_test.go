package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiClient_Complete(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":" {\"decision\":\"EXCLUDE\"} "}]}}],"usageMetadata":{"promptTokenCount":42,"candidatesTokenCount":9}}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), Config{APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, c.Provider())

	out, err := c.Complete(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"EXCLUDE"}`, out.Text)
	assert.Equal(t, "gemini-test", out.Model)
	assert.Equal(t, 42, out.InputTokens)
	assert.Equal(t, 9, out.OutputTokens)

	assert.Contains(t, raw, "systemInstruction")
	gen, ok := raw["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", raw)
	temp, ok := gen["temperature"]
	require.True(t, ok, "temperature 0 must be sent")
	assert.Equal(t, 0.0, temp)
}

func TestGeminiClient_ClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad model","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), Config{APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-test"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", "x")
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
