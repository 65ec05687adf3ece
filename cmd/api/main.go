package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/leks1107/AI-Copilot/internal/config"
	"github.com/leks1107/AI-Copilot/internal/handler"
	"github.com/leks1107/AI-Copilot/internal/handler/assist"
	relayhandler "github.com/leks1107/AI-Copilot/internal/handler/relay"
	"github.com/leks1107/AI-Copilot/internal/service/ai"
	relaysvc "github.com/leks1107/AI-Copilot/internal/service/relay"
	"github.com/leks1107/AI-Copilot/internal/service/transcription"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})

	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file, continuing with system environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	if !cfg.Transcription.Enabled {
		logger.Warn("ASSEMBLYAI_API_KEY not set, upstream transcription will be unavailable")
	}
	transcriptionClient := transcription.NewClient(transcription.Config{
		URL:            cfg.Transcription.URL,
		APIKey:         cfg.Transcription.APIKey,
		SampleRate:     cfg.Transcription.SampleRate,
		ConnectTimeout: cfg.Transcription.ConnectTimeout,
		AudioBuffer:    cfg.Transcription.AudioBuffer,
	}, logger)

	generator := newGenerator(ctx, cfg.AI, logger)

	prompter := ai.NewBuilder()
	registry := relaysvc.New(transcriptionClient, prompter, generator, relaysvc.Options{
		GenerationTimeout: cfg.AI.RequestTimeout,
	}, logger)
	defer registry.Close()

	gateway := relayhandler.NewWebSocketHandler(registry, logger)

	var transcriber assist.Transcriber
	if cfg.Transcription.Enabled {
		transcriber = transcriptionClient
	}
	assistHandler := assist.New(transcriber, prompter, generator, logger)
	router := handler.NewRouter(gateway, assistHandler)

	startServer(ctx, logger, cfg.Server, router)
}

// newGenerator picks the configured answer provider. A nil return degrades
// the relay to transcription-only: final transcripts produce error events.
func newGenerator(ctx context.Context, cfg config.AIConfig, logger *log.Logger) relaysvc.Generator {
	if !cfg.Enabled() {
		logger.Warn("answer generation credentials not configured, continuing without AI functionality")
		return nil
	}

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize ark chat model, continuing without AI functionality", "error", err)
			return nil
		}
		generator, err := ai.NewArkGenerator(ctx, chatModel)
		if err != nil {
			logger.Warn("failed to initialize ark generator, continuing without AI functionality", "error", err)
			return nil
		}
		logger.Info("answer generator initialized", "provider", cfg.Provider, "model", cfg.Model)
		return generator
	default:
		opts := []ai.OpenAIOption{ai.WithTimeout(cfg.RequestTimeout)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.Temperature != nil {
			opts = append(opts, ai.WithTemperature(*cfg.Temperature))
		}
		if cfg.MaxTokens != nil {
			opts = append(opts, ai.WithMaxTokens(int64(*cfg.MaxTokens)))
		}
		generator, err := ai.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.Model, opts...)
		if err != nil {
			logger.Warn("failed to initialize openai generator, continuing without AI functionality", "error", err)
			return nil
		}
		logger.Info("answer generator initialized", "provider", config.ProviderOpenAI, "model", cfg.Model)
		return generator
	}
}

func startServer(ctx context.Context, logger *log.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("AI-Copilot backend listening", "addr", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
