package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 2048
)

// Provider implements models.AnalysisProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResponse, error) {
	body := messagesRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		System:      ai.SystemPrompt,
		Messages:    []message{{Role: "user", Content: ai.BuildPrompt(req)}},
		Temperature: 0.2,
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var resp messagesResponse
	if err := ai.PostJSON(ctx, p.client, p.cfg.BaseURL+"/v1/messages", headers, body, &resp); err != nil {
		return models.AnalysisResponse{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return models.AnalysisResponse{}, fmt.Errorf("anthropic messages: %w: no text content", ai.ErrInvalidResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}
	return models.AnalysisResponse{Text: text.String(), Model: model}, nil
}

var _ models.AnalysisProvider = (*Provider)(nil)
