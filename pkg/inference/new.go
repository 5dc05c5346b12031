package inference

import (
	"context"
	"fmt"

	"chronicles/pkg/config"
)

// New builds the Completer for the provider selected in cfg.
func New(ctx context.Context, cfg *config.Config) (Completer, error) {
	opts := []Option{
		WithRequestTimeout(cfg.RequestTimeout),
		WithMaxRetries(cfg.MaxRetries),
		WithDefaults(Defaults{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		}),
	}

	switch cfg.Provider {
	case "mistral":
		return NewMistral(cfg.MistralAPIKey, cfg.MistralModel, opts...), nil
	case "openai":
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.OpenAIBaseURL))
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, opts...), nil
	case "grok":
		return NewGrok(cfg.GrokAPIKey, cfg.GrokModel, opts...), nil
	case "moonshot":
		return NewMoonshot(cfg.MoonshotAPIKey, cfg.MoonshotModel, opts...), nil
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
