package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// DefaultMaxTokens bounds completions when WithMaxTokens is not given.
const DefaultMaxTokens = 4096

var (
	ErrUnknownProvider = errors.New("unknown LLM provider")
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrEmptyResponse   = errors.New("empty response")
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int
}

func (o *clientOptions) tokens() int {
	if o.maxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.maxTokens
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

// ParseModel splits a "provider/model" reference.
func ParseModel(model string) (provider, modelName string, err error) {
	provider, modelName, ok := strings.Cut(strings.TrimSpace(model), "/")
	if !ok || provider == "" || modelName == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return provider, modelName, nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return nil, fmt.Errorf("%w %q: supported providers are openai, anthropic, gemini", ErrUnknownProvider, provider)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAIClient(apiKey, model, o)
	case ProviderAnthropic:
		return newAnthropicClient(apiKey, model, o)
	default:
		return newGeminiClient(apiKey, model, o)
	}
}

// Factory builds clients on demand, resolving each provider's API key
// through keyFor.
type Factory struct {
	keyFor func(provider string) string
	opts   []Option
}

func NewFactory(keyFor func(provider string) string, opts ...Option) *Factory {
	return &Factory{keyFor: keyFor, opts: opts}
}

func (f *Factory) Client(provider, model string) (Client, error) {
	return NewClient(provider, f.keyFor(provider), model, f.opts...)
}
