package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// AI provider selectors.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config aggregates every setting the service reads.
type Config struct {
	Server        ServerConfig
	AI            AIConfig
	Transcription TranscriptionConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	transcription, err := loadTranscriptionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Transcription: transcription}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// Accept ":3000" or "127.0.0.1:3000" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the answer-generation provider.
type AIConfig struct {
	Provider       string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ArkAPIKey      string
	ArkAccessKey   string
	ArkSecretKey   string
	ArkBaseURL     string
	ArkRegion      string
	Model          string
	Temperature    *float64
	MaxTokens      *int
	RequestTimeout time.Duration
}

// Enabled reports whether the selected provider has usable credentials.
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Model != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.OpenAIAPIKey != "" && c.Model != ""
	}
}

// NewChatModel builds an Ark chat model from the configuration. Only valid
// when Provider is "ark".
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Provider != ProviderArk {
		return nil, fmt.Errorf("chat model requested for provider %q", c.Provider)
	}
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + AI_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value: %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeoutSeconds, err := parseOptionalIntEnv("AI_TIMEOUT")
	if err != nil {
		return AIConfig{}, err
	}
	timeout := 30 * time.Second
	if timeoutSeconds != nil {
		timeout = time.Duration(*timeoutSeconds) * time.Second
	}

	defaultModel := ""
	if provider == ProviderOpenAI {
		defaultModel = "gpt-4"
	}

	return AIConfig{
		Provider:       provider,
		OpenAIAPIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:  strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		ArkAPIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkBaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Model:          getEnvOrDefault("AI_MODEL", defaultModel),
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		RequestTimeout: timeout,
	}, nil
}

// TranscriptionConfig describes the upstream realtime transcription service.
type TranscriptionConfig struct {
	APIKey         string
	URL            string
	SampleRate     int
	ConnectTimeout time.Duration
	AudioBuffer    int
	Enabled        bool
}

func loadTranscriptionConfig() (TranscriptionConfig, error) {
	sampleRate := 16000
	if override, err := parseOptionalIntEnv("ASSEMBLYAI_SAMPLE_RATE"); err != nil {
		return TranscriptionConfig{}, err
	} else if override != nil {
		sampleRate = *override
	}

	connectSeconds, err := parseOptionalIntEnv("ASSEMBLYAI_CONNECT_TIMEOUT")
	if err != nil {
		return TranscriptionConfig{}, err
	}
	connectTimeout := 10 * time.Second
	if connectSeconds != nil {
		connectTimeout = time.Duration(*connectSeconds) * time.Second
	}

	audioBuffer := 100
	if override, err := parseOptionalIntEnv("ASSEMBLYAI_AUDIO_BUFFER"); err != nil {
		return TranscriptionConfig{}, err
	} else if override != nil {
		audioBuffer = *override
	}

	apiKey := strings.TrimSpace(os.Getenv("ASSEMBLYAI_API_KEY"))

	return TranscriptionConfig{
		APIKey:         apiKey,
		URL:            getEnvOrDefault("ASSEMBLYAI_URL", "wss://api.assemblyai.com/v2/realtime/ws"),
		SampleRate:     sampleRate,
		ConnectTimeout: connectTimeout,
		AudioBuffer:    audioBuffer,
		Enabled:        apiKey != "",
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
