package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/config"
)

// NewCompletionProvider creates the streaming provider selected by cfg.
func NewCompletionProvider(ctx context.Context, cfg *config.Config) (CompletionProvider, error) {
	switch cfg.CompletionProvider {
	case config.ProviderMock:
		log.Info().Msg("Using mock completion provider")
		return NewMock(), nil
	case config.ProviderOpenAI, "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai completion provider")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.CompletionModel), nil
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini completion provider")
		}
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.CompletionModel)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.CompletionProvider)
	}
}

// NewSummarizer creates the batch summarizer selected by cfg.
func NewSummarizer(ctx context.Context, cfg *config.Config) (Summarizer, error) {
	switch cfg.SummaryProvider {
	case config.ProviderMock:
		log.Info().Msg("Using mock summarizer")
		return NewMock(), nil
	case config.ProviderOpenAI, "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai summarizer")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.SummaryModel), nil
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini summarizer")
		}
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.SummaryModel)
	default:
		return nil, fmt.Errorf("unknown summary provider %q", cfg.SummaryProvider)
	}
}
