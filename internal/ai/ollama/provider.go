package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// Provider implements models.AnalysisProvider using a local Ollama server.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResponse, error) {
	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: ai.SystemPrompt},
			{Role: "user", Content: ai.BuildPrompt(req)},
		},
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.2},
	}

	var resp chatResponse
	if err := ai.PostJSON(ctx, p.client, p.cfg.BaseURL+"/api/chat", nil, body, &resp); err != nil {
		return models.AnalysisResponse{}, fmt.Errorf("ollama chat: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return models.AnalysisResponse{}, fmt.Errorf("ollama chat: %w: empty message", ai.ErrInvalidResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}
	return models.AnalysisResponse{Text: resp.Message.Content, Model: model}, nil
}

var _ models.AnalysisProvider = (*Provider)(nil)
