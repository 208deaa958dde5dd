package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/agent/providers"
	"github.com/haasonsaas/hearth/internal/config"
)

// buildDriver resolves a model reference to a concrete provider driver.
func buildDriver(cfg config.Config, ref config.ModelRef, logger *slog.Logger) (agent.Driver, error) {
	switch ref.Driver {
	case "anthropic":
		key := cfg.AnthropicAPIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey: key,
			Logger: logger,
		})
	case "ollama":
		return providers.NewOllama(providers.OllamaConfig{
			Host:   cfg.OllamaHost,
			Logger: logger,
		}), nil
	case "openai":
		// An "openai/provider:model" reference picks a configured
		// OpenAI-compatible endpoint by name; a bare model uses the
		// default provider.
		providerName, _ := splitProviderModel(ref.Model)
		provider, ok := cfg.OpenAIProviderByName(providerName)
		if !ok {
			if providerName == config.DefaultOpenAIProviderName {
				provider = config.OpenAIProvider{APIKey: os.Getenv("OPENAI_API_KEY")}
			} else {
				return nil, fmt.Errorf("openAIProviders has no provider %q", providerName)
			}
		}
		return providers.NewOpenAI(providers.OpenAIConfig{
			Name:    providerName,
			APIKey:  provider.APIKey,
			BaseURL: provider.BaseURL,
			Logger:  logger,
		})
	}
	return nil, fmt.Errorf("unknown driver %q", ref.Driver)
}

// splitProviderModel cuts an optional "provider:" prefix off an
// openai-family model reference.
func splitProviderModel(model string) (string, string) {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i], model[i+1:]
		}
	}
	return config.DefaultOpenAIProviderName, model
}

// modelName strips the provider prefix so the wire model matches what
// the endpoint expects.
func modelName(ref config.ModelRef) string {
	if ref.Driver != "openai" {
		return ref.Model
	}
	_, model := splitProviderModel(ref.Model)
	return model
}
