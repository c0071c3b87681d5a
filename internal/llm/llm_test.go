package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"ankiforge/internal/backoff"
	"ankiforge/internal/config"
)

func TestOllamaChat_Complete(t *testing.T) {
	t.Run("Should send the prompt as a user message", func(t *testing.T) {
		var got chatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/chat", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "Q|A"}})
		}))
		t.Cleanup(srv.Close)

		out, err := NewOllamaChat(srv.URL, "", time.Second).Complete(context.Background(), "make cards")
		require.NoError(t, err)

		assert.Equal(t, "Q|A", out)
		assert.Equal(t, DefaultOllamaModel, got.Model)
		assert.False(t, got.Stream)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "make cards", got.Messages[0].Content)
	})

	t.Run("Should report non-200 responses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)

		_, err := NewOllamaChat(srv.URL, "m", time.Second).Complete(context.Background(), "x")

		assert.ErrorContains(t, err, "404")
	})
}

func TestOpenAI_Complete(t *testing.T) {
	t.Run("Should return the first choice", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req openai.ChatCompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, DefaultOpenAIModel, req.Model)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "SUFFICIENT"}},
				},
			})
		}))
		t.Cleanup(srv.Close)
		cfg := openai.DefaultConfig("test")
		cfg.BaseURL = srv.URL + "/v1"

		out, err := newOpenAIWithConfig(cfg, "").Complete(context.Background(), "topic")
		require.NoError(t, err)

		assert.Equal(t, "SUFFICIENT", out)
	})
}

type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Complete(context.Context, string) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return "ok", nil
}

func TestWithRetry(t *testing.T) {
	policy := backoff.Policy{MaxRetries: 2, Base: time.Millisecond}

	t.Run("Should retry transient failures", func(t *testing.T) {
		s := &scripted{errs: []error{backoff.Retryable(errors.New("503"))}}

		out, err := WithRetry(s, policy).Complete(context.Background(), "p")
		require.NoError(t, err)

		assert.Equal(t, "ok", out)
		assert.Equal(t, 2, s.calls)
	})

	t.Run("Should give up on permanent failures", func(t *testing.T) {
		s := &scripted{errs: []error{errors.New("bad request")}}

		_, err := WithRetry(s, policy).Complete(context.Background(), "p")

		require.Error(t, err)
		assert.Equal(t, 1, s.calls)
	})
}

func TestClassifyGeminiError(t *testing.T) {
	policy := backoff.Policy{MaxRetries: 2, Base: time.Millisecond}
	cases := []struct {
		name  string
		err   error
		calls int
	}{
		{"invalid key", genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}, 1},
		{"forbidden", &genai.APIError{Code: http.StatusForbidden}, 1},
		{"rate limited", genai.APIError{Code: http.StatusTooManyRequests}, 3},
		{"server error", genai.APIError{Code: http.StatusServiceUnavailable}, 3},
		{"network", errors.New("connection reset"), 3},
	}
	for _, tc := range cases {
		t.Run("Should classify "+tc.name, func(t *testing.T) {
			calls := 0
			err := backoff.Do(context.Background(), policy, func(context.Context) error {
				calls++
				return classifyGeminiError(fmt.Errorf("gemini generate: %w", tc.err))
			})

			require.Error(t, err)
			assert.Equal(t, tc.calls, calls)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := New(context.Background(), config.LLMConfig{Provider: "bard"})
		assert.Error(t, err)
	})

	t.Run("Should build an ollama completer", func(t *testing.T) {
		c, err := New(context.Background(), config.LLMConfig{Provider: "ollama", OllamaURL: "http://localhost:11434", Timeout: time.Second})
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
}
