// Package llm wraps text-generation providers behind a small retrying
// client used by the pipeline stages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/forgeline/forgeline/internal/config"
)

// ErrDisabled is returned by New when no provider is configured.
var ErrDisabled = errors.New("llm provider not configured")

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates text through a configured provider with retries and
// a per-attempt timeout.
type Client struct {
	model    llms.Model
	provider string
	cfg      config.LLMConfig
}

// New builds a client for the configured provider. Returns ErrDisabled
// when the provider is empty so callers can run without one.
func New(cfg config.LLMConfig) (*Client, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "":
		return nil, ErrDisabled
	case "huggingface":
		opts := []huggingface.Option{
			huggingface.WithToken(cfg.APIKey),
			huggingface.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, huggingface.WithURL(cfg.BaseURL))
		}
		model, err = huggingface.New(opts...)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}
	return &Client{model: model, provider: cfg.Provider, cfg: cfg}, nil
}

// Provider reports which backend the client talks to.
func (c *Client) Provider() string { return c.provider }

// Generate produces a completion for prompt. Failed attempts back off
// exponentially before retrying.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	retries := c.cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			slog.Warn("llm attempt failed, retrying",
				"provider", c.provider, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.generateOnce(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", retries, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, prompt string) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	)
}

// Chat flattens a conversation into a single instruct-style prompt and
// generates a reply. Instruct-tuned models without a chat endpoint
// expect the [INST] framing.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	return c.Generate(ctx, FormatChatPrompt(messages))
}

// Complete generates a short completion; it exists so the client can
// stand in anywhere a single-prompt completer is expected.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Generate(ctx, prompt)
}

// FormatChatPrompt renders chat messages for instruct models. System
// and user turns are wrapped in [INST] markers, assistant turns are
// inlined verbatim.
func FormatChatPrompt(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			b.WriteString(msg.Content)
			b.WriteString("\n")
		default:
			b.WriteString("[INST] ")
			b.WriteString(msg.Content)
			b.WriteString(" [/INST]\n")
		}
	}
	return b.String()
}
