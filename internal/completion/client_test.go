package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
)

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestCompleteSendsPromptAndReturnsReply(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Olá! Como posso ajudar?  "}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", APIKey: "test-key", Model: "gpt-4o-mini", MaxTokens: 200}, logging.Discard())
	reply, err := c.Complete(context.Background(), "sistema", "Cliente: oi", "quero internet")
	require.NoError(t, err)
	assert.Equal(t, "Olá! Como posso ajudar?", reply)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 200, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "sistema", got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, "Cliente: oi")
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "quero internet", got.Messages[2].Content)
}

func TestCompleteWithoutHistoryUsesDefaultPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", APIKey: "k"}, logging.Discard())
	_, err := c.Complete(context.Background(), "", "", "oi")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, DefaultSystemPrompt, got.Messages[0].Content)
	assert.Equal(t, DefaultModel, got.Model)
}

func TestCompleteFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", APIKey: "k"}, logging.Discard())
	_, err := c.Complete(context.Background(), "", "", "oi")
	assert.ErrorIs(t, err, apperr.CompletionUnavailable.New())
	assert.EqualValues(t, 1, calls.Load())

	disabled := New(Options{}, logging.Discard())
	assert.False(t, disabled.Enabled())
	_, err = disabled.Complete(context.Background(), "", "", "oi")
	assert.True(t, apperr.Is(err, apperr.KindTransport))
}
