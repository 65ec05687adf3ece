package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIGenerator answers prompts through the OpenAI chat completions API.
type OpenAIGenerator struct {
	client      oai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// OpenAIOption is a functional option for OpenAIGenerator.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL     string
	timeout     time.Duration
	temperature float64
	maxTokens   int64
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *openAIConfig) {
		c.temperature = t
	}
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int64) OpenAIOption {
	return func(c *openAIConfig) {
		c.maxTokens = n
	}
}

// NewOpenAIGenerator constructs an OpenAI-backed generator.
func NewOpenAIGenerator(apiKey, model string, opts ...OpenAIOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &openAIConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAIGenerator{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// GenerateAnswer implements Generator.
func (g *OpenAIGenerator) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(generationSystemPrompt),
			oai.UserMessage(prompt),
		},
	}
	if g.temperature > 0 {
		params.Temperature = param.NewOpt(g.temperature)
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(g.maxTokens)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", ErrGenerationUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}
