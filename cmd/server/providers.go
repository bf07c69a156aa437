package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/tutorhub/internal/config"
	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/provider"
)

// newProviderClient registers every backend that has credentials or an
// address configured. The echo backend is always available.
func newProviderClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Client, func(), error) {
	client := provider.NewClient(cfg.Provider.Timeout, logger)
	client.Register(domain.ProviderEcho, provider.Echo{})

	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Provider.OpenAIAPIKey != "" {
		client.Register(domain.ProviderOpenAI, provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.Provider.OpenAIAPIKey,
			BaseURL: cfg.Provider.OpenAIBaseURL,
			Model:   cfg.Provider.OpenAIModel,
		}))
	} else {
		slog.Info("OpenAI backend disabled (OPENAI_API_KEY not set)")
	}

	if cfg.Provider.GeminiAPIKey != "" {
		gemini, err := provider.NewGemini(ctx, cfg.Provider.GeminiAPIKey, cfg.Provider.GeminiModel)
		if err != nil {
			return nil, closeAll, fmt.Errorf("initialize gemini backend: %w", err)
		}
		client.Register(domain.ProviderGemini, gemini)
	}

	if cfg.Provider.GeneratorAddr != "" {
		slog.Info("Connecting to generator service via gRPC", "address", cfg.Provider.GeneratorAddr)
		gen, err := provider.NewGRPC(provider.DefaultGRPCConfig(cfg.Provider.GeneratorAddr), logger)
		if err != nil {
			// Agents on other backends keep working.
			slog.Warn("Failed to connect to generator service, grpc agents will fail", "error", err)
		} else {
			closers = append(closers, gen.Close)
			client.Register(domain.ProviderGRPC, gen)
		}
	}

	return client, closeAll, nil
}
