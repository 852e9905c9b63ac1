// Package provider builds the configured models.AnalysisProvider.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/callcoach/internal/ai/anthropic"
	"github.com/kiranshivaraju/callcoach/internal/ai/gemini"
	"github.com/kiranshivaraju/callcoach/internal/ai/mock"
	"github.com/kiranshivaraju/callcoach/internal/ai/ollama"
	"github.com/kiranshivaraju/callcoach/internal/ai/openai"
	"github.com/kiranshivaraju/callcoach/internal/ai/vllm"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// New constructs the appropriate AI provider based on config.
// Called once at server startup. Every HTTP call is bounded by cfg.InferenceTimeout.
func New(ctx context.Context, cfg config.AIConfig) (models.AnalysisProvider, error) {
	client := &http.Client{Timeout: cfg.InferenceTimeout}

	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, client), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, client), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, client), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, client), nil
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini, client, "")
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, gemini, mock", cfg.Provider)
	}
}
