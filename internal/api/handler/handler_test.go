package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/api/handler"
	mw "github.com/kiranshivaraju/callcoach/internal/api/middleware"
	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

// --- mock queue service ---

type mockQueue struct {
	enqueueFn func(sessionID, orgID uuid.UUID, priority int) (*models.AnalysisJob, error)
	statusFn  func(orgID, sessionID uuid.UUID) (*queue.Status, error)

	retryArg   int
	cleanupArg int
	reapArg    int
	err        error

	filter store.JobFilter
	jobs   []*models.AnalysisJob
}

func (m *mockQueue) Enqueue(_ context.Context, sessionID, orgID uuid.UUID, priority int) (*models.AnalysisJob, error) {
	return m.enqueueFn(sessionID, orgID, priority)
}

func (m *mockQueue) GetStatus(_ context.Context, orgID, sessionID uuid.UUID) (*queue.Status, error) {
	return m.statusFn(orgID, sessionID)
}

func (m *mockQueue) RetryFailedJobs(_ context.Context, maxRetries int) (int, error) {
	m.retryArg = maxRetries
	return 2, m.err
}

func (m *mockQueue) CleanupOldJobs(_ context.Context, daysOld int) (int64, error) {
	m.cleanupArg = daysOld
	return 7, m.err
}

func (m *mockQueue) ReapExpiredLeases(_ context.Context, maxAttempts int) (int, int, error) {
	m.reapArg = maxAttempts
	return 3, 1, m.err
}

func (m *mockQueue) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.AnalysisJob, error) {
	m.filter = filter
	return m.jobs, m.err
}

// --- helpers ---

func newRouter(m *mockQueue) http.Handler {
	r := chi.NewRouter()
	r.Post("/sessions/{sessionID}/analysis", handler.NewEnqueueHandler(m, discard))
	r.Get("/sessions/{sessionID}/analysis", handler.NewStatusHandler(m, discard))
	r.Post("/admin/retry", handler.NewRetryHandler(m, discard))
	r.Post("/admin/cleanup", handler.NewCleanupHandler(m, discard))
	r.Post("/admin/reap", handler.NewReapHandler(m, discard))
	r.Get("/admin/jobs", handler.NewListJobsHandler(m, discard))
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any, orgID *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if orgID != nil {
		req = req.WithContext(mw.SetOrgID(req.Context(), *orgID))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	d, ok := env["data"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return d
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	e, ok := env["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return e["code"].(string)
}

func fakeJob(sessionID, orgID uuid.UUID, priority int) *models.AnalysisJob {
	return &models.AnalysisJob{
		ID:        uuid.New(),
		SessionID: sessionID,
		OrgID:     orgID,
		Priority:  priority,
		Status:    models.JobStatusPending,
		QueuedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func admissionNotFound() error {
	return fmt.Errorf("%w: marking session pending: %w", queue.ErrAdmission, store.ErrNotFound)
}
