package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"google.golang.org/genai"
)

// Provider implements models.AnalysisProvider using the Gemini API through google.golang.org/genai.
type Provider struct {
	client *genai.Client
	model  string
}

// NewProvider creates the genai client. baseURL is empty in production and points at a fake server in tests.
func NewProvider(ctx context.Context, cfg config.GeminiConfig, httpClient *http.Client, baseURL string) (*Provider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResponse, error) {
	temperature := float32(0.2)
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: ai.BuildPrompt(req)}},
	}}
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: ai.SystemPrompt}}},
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		if ctx.Err() != nil {
			return models.AnalysisResponse{}, fmt.Errorf("gemini generate: %w", ai.ClassifyTransportError(ctx.Err()))
		}
		return models.AnalysisResponse{}, fmt.Errorf("gemini generate: %w", ai.ClassifyTransportError(err))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return models.AnalysisResponse{}, fmt.Errorf("gemini generate: %w: no candidates", ai.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return models.AnalysisResponse{}, fmt.Errorf("gemini generate: %w: blocked by safety filters", ai.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return models.AnalysisResponse{}, fmt.Errorf("gemini generate: %w: empty content", ai.ErrInvalidResponse)
	}

	model := p.model
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return models.AnalysisResponse{Text: text.String(), Model: model}, nil
}

var _ models.AnalysisProvider = (*Provider)(nil)
