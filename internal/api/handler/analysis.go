package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/api/response"
	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// Enqueuer admits a session for analysis.
type Enqueuer interface {
	Enqueue(ctx context.Context, sessionID, orgID uuid.UUID, priority int) (*models.AnalysisJob, error)
}

// StatusReader reports the analysis state of a session.
type StatusReader interface {
	GetStatus(ctx context.Context, orgID, sessionID uuid.UUID) (*queue.Status, error)
}

type enqueueRequest struct {
	Priority int `json:"priority" validate:"gte=0,lte=100"`
}

type enqueueResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	SessionID uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
	Priority  int       `json:"priority"`
	QueuedAt  time.Time `json:"queued_at"`
}

// NewEnqueueHandler returns an http.HandlerFunc for POST /api/v1/sessions/{sessionID}/analysis.
// The response is sent as soon as the job row exists; scoring happens on the worker pool.
func NewEnqueueHandler(svc Enqueuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgFromRequest(w, r)
		if !ok {
			return
		}
		sessionID, ok := sessionIDParam(w, r)
		if !ok {
			return
		}

		var req enqueueRequest
		if !decodeBody(w, r, &req) {
			return
		}

		job, err := svc.Enqueue(r.Context(), sessionID, orgID, req.Priority)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrAdmission) && errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			default:
				logger.Error("enqueue analysis failed", "session_id", sessionID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to queue analysis", nil)
			}
			return
		}

		response.Accepted(w, enqueueResponse{
			JobID:     job.ID,
			SessionID: job.SessionID,
			Status:    job.Status,
			Priority:  job.Priority,
			QueuedAt:  job.QueuedAt,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/sessions/{sessionID}/analysis.
func NewStatusHandler(svc StatusReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgFromRequest(w, r)
		if !ok {
			return
		}
		sessionID, ok := sessionIDParam(w, r)
		if !ok {
			return
		}

		status, err := svc.GetStatus(r.Context(), orgID, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
				return
			}
			logger.Error("get analysis status failed", "session_id", sessionID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load analysis status", nil)
			return
		}

		response.JSON(w, status)
	}
}
