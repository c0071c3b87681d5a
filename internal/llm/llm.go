// Package llm provides text completion backends.
package llm

import (
	"context"
	"fmt"

	"ankiforge/internal/backoff"
	"ankiforge/internal/config"
)

// Completer turns a prompt into text. Output formatting is not guaranteed.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// New builds the completer selected by cfg.Provider, wrapped in the
// configured retry policy.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	var c Completer
	switch cfg.Provider {
	case "gemini":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		c = g
	case "openai":
		c = NewOpenAI(cfg.OpenAIKey, cfg.Model)
	case "ollama":
		c = NewOllamaChat(cfg.OllamaURL, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	policy := backoff.LLMPolicy
	policy.MaxRetries = uint64(max(cfg.Retries, 0))
	return WithRetry(c, policy), nil
}

type retrying struct {
	next   Completer
	policy backoff.Policy
}

// WithRetry retries transient completion failures under policy.
func WithRetry(c Completer, policy backoff.Policy) Completer {
	return &retrying{next: c, policy: policy}
}

func (r *retrying) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := backoff.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.next.Complete(ctx, prompt)
		return err
	})
	return out, err
}
