package gemini_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/internal/ai/gemini"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGemini(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, srv *httptest.Server) *gemini.Provider {
	t.Helper()
	p, err := gemini.NewProvider(context.Background(),
		config.GeminiConfig{APIKey: "test-key", Model: "gemini-2.0-flash"},
		srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	return p
}

func TestAnalyze_Success(t *testing.T) {
	srv := fakeGemini(t, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"overall_score\":"},{"text":"91}"}]},"finishReason":"STOP"}],"modelVersion":"gemini-2.0-flash-001"}`)
	p := newProvider(t, srv)

	assert.Equal(t, "gemini", p.Name())
	resp, err := p.Analyze(context.Background(), models.AnalysisRequest{Transcript: "Rep: hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"overall_score":91}`, resp.Text)
	assert.Equal(t, "gemini-2.0-flash-001", resp.Model)
}

func TestAnalyze_NoCandidates(t *testing.T) {
	srv := fakeGemini(t, `{"candidates":[]}`)
	_, err := newProvider(t, srv).Analyze(context.Background(), models.AnalysisRequest{})
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
}

func TestAnalyze_SafetyBlocked(t *testing.T) {
	srv := fakeGemini(t, `{"candidates":[{"content":{"role":"model","parts":[{"text":"x"}]},"finishReason":"SAFETY"}]}`)
	_, err := newProvider(t, srv).Analyze(context.Background(), models.AnalysisRequest{})
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
	assert.Contains(t, err.Error(), "safety")
}
