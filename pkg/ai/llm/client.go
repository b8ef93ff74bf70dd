// Package llm wraps the generative-language provider behind a single
// process-wide client. The provider speaks the OpenAI chat-completion
// protocol; in production the base URL points at Gemini's
// OpenAI-compatible endpoint.
package llm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config for the LLM client
type Config struct {
	APIKey      string
	BaseURL     string  // default: provider's own endpoint
	Model       string  // default: gemini-2.0-flash
	Temperature float32 // default: 0.7
	MaxTokens   int     // default: 2000
}

// Client wraps the chat-completion API client
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *log.Logger
}

// NewClient creates a new LLM client
func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if logger == nil {
		logger = log.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Complete sends a single-prompt completion request and returns the first
// choice's text verbatim. No retry, no streaming.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithLimit(ctx, prompt, 0)
}

// CompleteWithLimit is Complete with a per-call max-token override.
// A zero limit uses the client default.
func (c *Client) CompleteWithLimit(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Printf("❌ LLM completion failed: %v (duration: %v)", err, duration)
		return "", fmt.Errorf("llm completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from llm provider")
	}

	c.logger.Printf("✅ LLM completion: %d tokens (duration: %v)", resp.Usage.TotalTokens, duration)

	return resp.Choices[0].Message.Content, nil
}
