package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// Generator is a stateless text-completion service.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// Provider names accepted by NewGenerator.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderDryRun = "dryrun"
)

// Defaults for the openai provider point at a local Ollama server.
const (
	DefaultOpenAIURL   = "http://localhost:11434/v1"
	DefaultOpenAIKey   = "ollama"
	DefaultOpenAIModel = "llama3.2"
)

// Config selects and configures a Generator. Empty fields are filled in
// per provider by WithDefaults.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// WithDefaults returns cfg with empty fields set for its provider. Gemini
// keeps an empty BaseURL and key; the key must be given explicitly.
func (cfg Config) WithDefaults() Config {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		cfg.Provider = ProviderOpenAI
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultOpenAIURL
		}
		if cfg.APIKey == "" {
			cfg.APIKey = DefaultOpenAIKey
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
	case ProviderGemini:
		if cfg.Model == "" {
			cfg.Model = defaultGeminiModel
		}
	}
	return cfg
}

// NewGenerator builds the generator named by cfg.Provider.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return New(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg.BaseURL, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderDryRun:
		return DryRun{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want openai, gemini or dryrun)", cfg.Provider)
	}
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new OpenAI-compatible client. An empty baseURL uses the
// OpenAI endpoint; any compatible server (Ollama, LM Studio) works.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Generate sends the prompt as a single user message.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	text := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "chars", len(text))
	if text == "" {
		return "", fmt.Errorf("LLM returned empty text")
	}
	return text, nil
}

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM list models: %w", err)
	}
	return nil
}
