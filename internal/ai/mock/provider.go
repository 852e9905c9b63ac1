package mock

import (
	"context"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// Scorecard is the JSON returned by NewMockProvider.
const Scorecard = `{
  "overall_score": 78,
  "categories": {
    "discovery": {"score": 82, "feedback": "Asked open questions about current tooling.", "key_moments": []},
    "rapport": {"score": 75, "feedback": "Warm opener, slightly rushed.", "key_moments": []},
    "objection_handling": {"score": 70, "feedback": "Acknowledged the budget concern before pivoting.", "key_moments": []},
    "value_proposition": {"score": 80, "feedback": "Tied features to the prospect's reporting pain.", "key_moments": []},
    "closing": {"score": 83, "feedback": "Secured a concrete follow-up meeting.", "key_moments": []}
  },
  "strengths": ["Clear agenda", "Confident close"],
  "improvements": ["Quantify the ROI earlier"],
  "key_moment": {"timestamp": "02:14", "quote": "What would it mean if reporting took minutes?", "insight": "Reframed cost as time saved."},
  "summary": "Solid call with a strong close. Value framing could land earlier.",
  "next_steps": ["Practice a 30 second ROI statement"]
}`

// MockProvider satisfies models.AnalysisProvider for testing.
type MockProvider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResponse, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResponse, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.AnalysisResponse{}, nil
}

// NewMockProvider returns a MockProvider that answers every request with Scorecard.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (models.AnalysisResponse, error) {
			return models.AnalysisResponse{Text: Scorecard, Model: "mock-v1"}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (models.AnalysisResponse, error) {
			return models.AnalysisResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalysisRequest) (models.AnalysisResponse, error) {
			<-ctx.Done()
			return models.AnalysisResponse{}, ai.ErrInferenceTimeout
		},
	}
}

// NewTextProvider returns a MockProvider that answers with a fixed raw text.
func NewTextProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock-text",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (models.AnalysisResponse, error) {
			return models.AnalysisResponse{Text: text, Model: "mock-v1"}, nil
		},
	}
}

// Compile-time check that MockProvider implements AnalysisProvider.
var _ models.AnalysisProvider = (*MockProvider)(nil)
