package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// Provider implements models.AnalysisProvider against the OpenAI chat completions API.
// Any server speaking the same protocol (vLLM, LiteLLM) can be used through NewCompatible.
type Provider struct {
	name     string
	baseURL  string
	apiKey   string
	model    string
	jsonMode bool
	client   *http.Client
}

func NewProvider(cfg config.OpenAIConfig, client *http.Client) *Provider {
	p := NewCompatible("openai", cfg.BaseURL, cfg.APIKey, cfg.Model, client)
	p.jsonMode = true
	return p
}

// NewCompatible returns a provider for an OpenAI-compatible server.
func NewCompatible(name, baseURL, apiKey, model string, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResponse, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: ai.SystemPrompt},
			{Role: "user", Content: ai.BuildPrompt(req)},
		},
		Temperature: 0.2,
	}
	if p.jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var resp chatResponse
	if err := ai.PostJSON(ctx, p.client, p.baseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		return models.AnalysisResponse{}, fmt.Errorf("%s chat completion: %w", p.name, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return models.AnalysisResponse{}, fmt.Errorf("%s chat completion: %w: empty completion", p.name, ai.ErrInvalidResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return models.AnalysisResponse{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

var _ models.AnalysisProvider = (*Provider)(nil)
