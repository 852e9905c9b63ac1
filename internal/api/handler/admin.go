package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/callcoach/internal/api/response"
	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// Maintainer runs the queue maintenance passes on demand.
type Maintainer interface {
	RetryFailedJobs(ctx context.Context, maxRetries int) (int, error)
	CleanupOldJobs(ctx context.Context, daysOld int) (int64, error)
	ReapExpiredLeases(ctx context.Context, maxAttempts int) (requeued, failed int, err error)
}

// JobLister lists jobs for the admin listing endpoint.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.AnalysisJob, error)
}

type retryRequest struct {
	MaxRetries int `json:"max_retries" validate:"gte=0,lte=100"`
}

type cleanupRequest struct {
	DaysOld int `json:"days_old" validate:"gte=0,lte=3650"`
}

type reapRequest struct {
	MaxAttempts int `json:"max_attempts" validate:"gte=0,lte=100"`
}

// NewRetryHandler returns an http.HandlerFunc for POST /api/v1/admin/analysis/retry.
func NewRetryHandler(svc Maintainer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.MaxRetries == 0 {
			req.MaxRetries = queue.DefaultMaxRetries
		}

		n, err := svc.RetryFailedJobs(r.Context(), req.MaxRetries)
		if err != nil {
			logger.Error("retry failed jobs", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Retry pass failed", nil)
			return
		}
		response.JSON(w, map[string]int{"reset": n})
	}
}

// NewCleanupHandler returns an http.HandlerFunc for POST /api/v1/admin/analysis/cleanup.
func NewCleanupHandler(svc Maintainer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cleanupRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.DaysOld == 0 {
			req.DaysOld = queue.DefaultRetention
		}

		n, err := svc.CleanupOldJobs(r.Context(), req.DaysOld)
		if err != nil {
			logger.Error("cleanup old jobs", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Cleanup pass failed", nil)
			return
		}
		response.JSON(w, map[string]int64{"deleted": n})
	}
}

// NewReapHandler returns an http.HandlerFunc for POST /api/v1/admin/analysis/reap.
func NewReapHandler(svc Maintainer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reapRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.MaxAttempts == 0 {
			req.MaxAttempts = queue.DefaultMaxAttempts
		}

		requeued, failed, err := svc.ReapExpiredLeases(r.Context(), req.MaxAttempts)
		if err != nil {
			logger.Error("reap expired leases", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Reap pass failed", nil)
			return
		}
		response.JSON(w, map[string]int{"requeued": requeued, "failed": failed})
	}
}

var listableStatuses = map[string]bool{
	"":                         true,
	models.JobStatusPending:    true,
	models.JobStatusProcessing: true,
	models.JobStatusCompleted:  true,
	models.JobStatusFailed:     true,
}

const defaultListLimit = 50

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/admin/analysis/jobs.
// Jobs are scoped to the caller's organization.
func NewListJobsHandler(svc JobLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgFromRequest(w, r)
		if !ok {
			return
		}

		status := r.URL.Query().Get("status")
		if !listableStatuses[status] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, processing, completed, failed", nil)
			return
		}

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 1000 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be an integer between 1 and 1000", nil)
				return
			}
			limit = n
		}

		jobs, err := svc.ListJobs(r.Context(), store.JobFilter{OrgID: &orgID, Status: status, Limit: limit})
		if err != nil {
			logger.Error("list jobs", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.AnalysisJob{}
		}
		response.Collection(w, jobs, len(jobs), limit)
	}
}
