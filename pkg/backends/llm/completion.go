// Package llm adapts an OpenAI-compatible chat-completion backend to the
// resilient execute entry point. Completions for identical prompts are
// stable, so they get the long TTL category.
package llm

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/developer-mesh/resilient-client/pkg/client"
	"github.com/developer-mesh/resilient-client/pkg/observability"
	"github.com/developer-mesh/resilient-client/pkg/resilience"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionConfig holds configuration for the completion adapter
type CompletionConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
	// TTL is the cache lifetime of a completion
	TTL time.Duration `mapstructure:"ttl"`
}

func (c *CompletionConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
}

// CompletionClient wraps chat completions with the resilience layer
type CompletionClient struct {
	api       *openai.Client
	resilient *client.Client
	config    CompletionConfig
	logger    observability.Logger
}

// NewCompletionClient creates a completion adapter. BaseURL allows
// OpenAI-compatible providers.
func NewCompletionClient(config CompletionConfig, resilient *client.Client, logger observability.Logger) *CompletionClient {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &CompletionClient{
		api:       openai.NewClientWithConfig(clientConfig),
		resilient: resilient,
		config:    config,
		logger:    logger.WithPrefix("llm"),
	}
}

// Complete returns the completion for the given messages. Identical prompts
// within the cache TTL never reach the provider.
func (c *CompletionClient) Complete(ctx context.Context, messages []Message) (string, error) {
	key := client.Fingerprint("llm.complete", c.config.Model, messages, c.config.MaxTokens, c.config.Temperature)

	return client.Execute(ctx, c.resilient, key, func(ctx context.Context) (string, error) {
		req := openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Messages:    convertMessages(messages),
			MaxTokens:   c.config.MaxTokens,
			Temperature: c.config.Temperature,
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classifyProviderError(err)
		}
		if len(resp.Choices) == 0 {
			return "", resilience.Permanent(errors.New("empty completion response"))
		}
		return resp.Choices[0].Message.Content, nil
	}, client.Options{TTL: c.config.TTL})
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}
	return out
}

// classifyProviderError maps provider API errors onto the layer's error
// taxonomy: rate-limit and overload codes retry, other API errors are
// caller faults carrying no circuit-breaker penalty. Transport errors pass
// through for the default network classification.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if resilience.RetryableStatus(apiErr.HTTPStatusCode) || apiErr.HTTPStatusCode >= 500 {
		return resilience.MarkTransient(err)
	}
	return resilience.Permanent(err)
}
