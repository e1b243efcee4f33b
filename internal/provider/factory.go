package provider

import (
	"fmt"
	"log/slog"

	"klix/internal/config"
	"klix/internal/domain"
)

// New builds the provider selected in the configuration.
func New(cfg *config.Config, logger *slog.Logger) (domain.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			APIBase: cfg.Gemini.APIBase,
			Model:   cfg.Gemini.Model,
			Logger:  logger,
		}), nil
	case config.ProviderOllama:
		return NewOllama(OllamaConfig{
			Host:   cfg.Ollama.Host,
			Model:  cfg.Ollama.Model,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

var (
	_ domain.Provider = (*Gemini)(nil)
	_ domain.Provider = (*Ollama)(nil)
)
