package vllm

import (
	"net/http"

	"github.com/kiranshivaraju/callcoach/internal/ai/openai"
	"github.com/kiranshivaraju/callcoach/internal/config"
)

// NewProvider returns a provider for a vLLM server. vLLM exposes the OpenAI chat completions API,
// so the OpenAI client is reused without an API key and without forcing JSON mode.
func NewProvider(cfg config.VLLMConfig, client *http.Client) *openai.Provider {
	return openai.NewCompatible("vllm", cfg.BaseURL, "", cfg.Model, client)
}
