// Package queue runs background analysis of finished practice sessions.
// The relational store is the queue: jobs are admitted as pending rows, leased by pool
// loops with an atomic claim, and reset or reaped by the maintenance passes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/cache"
	"github.com/kiranshivaraju/callcoach/internal/metrics"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

const (
	DefaultMaxRetries  = 3
	DefaultRetention   = 7
	DefaultMaxAttempts = 3

	// leaseExpiredError is stored on jobs the reaper gives up on.
	leaseExpiredError = "lease expired"

	// maintenanceBatch is the page size of the retry and reaper scans.
	maintenanceBatch = 1000
)

// Waker nudges idle workers after new work appears. Wake must never block.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to Waker.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Status is the analysis state of one session as reported to clients.
type Status struct {
	SessionID     uuid.UUID                `json:"session_id"`
	Status        string                   `json:"status"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Error         *string                  `json:"error,omitempty"`
	QueuePosition *int                     `json:"queue_position,omitempty"`
	Results       *models.ResultCacheEntry `json:"results,omitempty"`
}

// Service admits jobs, reports status and runs the maintenance passes.
type Service struct {
	store   store.Store
	cache   cache.Cache
	waker   Waker
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	batch   int
}

// NewService creates a Service. cache, waker and m may be nil.
func NewService(st store.Store, ca cache.Cache, waker Waker, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if waker == nil {
		waker = WakerFunc(func() {})
	}
	return &Service{
		store:   st,
		cache:   ca,
		waker:   waker,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		batch:   maintenanceBatch,
	}
}

// Enqueue marks the session pending and inserts a job for it. Priority <= 0 uses the default.
// No uniqueness is enforced: enqueuing a session twice yields two jobs. If the insert fails the
// session gets its previous status back.
func (s *Service) Enqueue(ctx context.Context, sessionID, orgID uuid.UUID, priority int) (*models.AnalysisJob, error) {
	if priority <= 0 {
		priority = models.DefaultJobPriority
	}

	sess, err := s.store.GetSession(ctx, sessionID, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading session: %w", ErrAdmission, err)
	}
	if err := s.store.UpdateSessionAnalysis(ctx, sessionID, models.JobStatusPending, store.WithOrgID(orgID)); err != nil {
		return nil, fmt.Errorf("%w: marking session pending: %w", ErrAdmission, err)
	}

	job := &models.AnalysisJob{
		ID:        uuid.New(),
		SessionID: sessionID,
		OrgID:     orgID,
		Priority:  priority,
		Status:    models.JobStatusPending,
		QueuedAt:  s.now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if rerr := s.store.UpdateSessionAnalysis(context.WithoutCancel(ctx), sessionID, sess.AnalysisStatus,
			store.WithOrgID(orgID)); rerr != nil {
			s.logger.ErrorContext(ctx, "restoring session status after failed enqueue",
				"session_id", sessionID, "status", sess.AnalysisStatus, "error", rerr)
		}
		return nil, fmt.Errorf("%w: creating job: %w", ErrAdmission, err)
	}

	s.metrics.JobEnqueued()
	s.logger.InfoContext(ctx, "analysis job enqueued",
		"job_id", job.ID, "session_id", sessionID, "priority", priority)

	s.waker.Wake()
	return job, nil
}

// GetStatus reports the session's analysis state. queue_position is set while pending,
// results once completed. An unknown session, or one in another org, yields store.ErrNotFound.
func (s *Service) GetStatus(ctx context.Context, orgID, sessionID uuid.UUID) (*Status, error) {
	sess, err := s.store.GetSession(ctx, sessionID, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	st := &Status{
		SessionID:   sess.ID,
		Status:      sess.AnalysisStatus,
		StartedAt:   sess.AnalysisStartedAt,
		CompletedAt: sess.AnalysisCompletedAt,
		Error:       sess.AnalysisError,
	}

	switch sess.AnalysisStatus {
	case models.JobStatusPending:
		pos, err := s.queuePosition(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		st.QueuePosition = pos
	case models.JobStatusCompleted:
		res, err := s.result(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		st.Results = res
	}
	return st, nil
}

// queuePosition is the 1-based rank of the session's first pending job, or nil when the
// job was claimed between reading the session and reading the queue.
func (s *Service) queuePosition(ctx context.Context, sessionID uuid.UUID) (*int, error) {
	entries, err := s.store.PendingQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading pending queue: %w", err)
	}
	for i, e := range entries {
		if e.SessionID == sessionID {
			pos := i + 1
			return &pos, nil
		}
	}
	return nil, nil
}

// result reads the scorecard from Redis, falling back to the store and refilling Redis.
func (s *Service) result(ctx context.Context, sessionID uuid.UUID) (*models.ResultCacheEntry, error) {
	if s.cache != nil {
		entry, ok, err := s.cache.GetResult(ctx, sessionID)
		if err != nil {
			s.logger.WarnContext(ctx, "result cache read failed", "session_id", sessionID, "error", err)
		} else if ok {
			return entry, nil
		}
	}

	entry, err := s.store.GetResult(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetResult(ctx, entry, cache.ResultTTL); err != nil {
			s.logger.WarnContext(ctx, "result cache refill failed", "session_id", sessionID, "error", err)
		}
	}
	return entry, nil
}

// RetryFailedJobs resets failed jobs with attempts below maxRetries back to pending along
// with their sessions. Attempts are left untouched, so the budget still holds.
func (s *Service) RetryFailedJobs(ctx context.Context, maxRetries int) (int, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	reset := 0
	for {
		// Reset rows leave the failed set, so each page starts from the front again.
		jobs, err := s.store.ListJobs(ctx, store.JobFilter{
			Status:        models.JobStatusFailed,
			AttemptsBelow: maxRetries,
			Limit:         s.batch,
		})
		if err != nil {
			return reset, fmt.Errorf("%w: listing failed jobs: %w", ErrPersistence, err)
		}

		progressed := false
		for _, job := range jobs {
			ok, err := s.store.ResetFailedJob(ctx, job.ID)
			if err != nil {
				return reset, fmt.Errorf("%w: resetting job %s: %w", ErrPersistence, job.ID, err)
			}
			if !ok {
				continue
			}
			reset++
			progressed = true

			if err := s.store.UpdateSessionAnalysis(ctx, job.SessionID, models.JobStatusPending, store.ClearAnalysisError()); err != nil {
				s.logger.WarnContext(ctx, "resetting session after retry failed",
					"job_id", job.ID, "session_id", job.SessionID, "error", err)
			}
		}
		if len(jobs) < s.batch || !progressed {
			break
		}
	}

	if reset > 0 {
		s.metrics.JobsRetried(reset)
		s.logger.InfoContext(ctx, "failed analysis jobs reset", "count", reset, "max_retries", maxRetries)
		s.waker.Wake()
	}
	return reset, nil
}

// CleanupOldJobs deletes completed jobs that finished more than daysOld days ago.
func (s *Service) CleanupOldJobs(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = DefaultRetention
	}
	cutoff := s.now().Add(-time.Duration(daysOld) * 24 * time.Hour)

	n, err := s.store.DeleteCompletedJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting completed jobs: %w", ErrPersistence, err)
	}
	if n > 0 {
		s.metrics.JobsCleaned(n)
		s.logger.InfoContext(ctx, "completed analysis jobs deleted", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// ReapExpiredLeases handles processing jobs whose worker stopped renewing them. Jobs with
// attempts left go back to pending; the rest fail with "lease expired".
func (s *Service) ReapExpiredLeases(ctx context.Context, maxAttempts int) (requeued, failed int, err error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := s.now()

	for {
		jobs, err := s.store.ListJobs(ctx, store.JobFilter{
			Status:            models.JobStatusProcessing,
			LockExpiredBefore: &now,
			Limit:             s.batch,
		})
		if err != nil {
			return requeued, failed, fmt.Errorf("%w: listing expired leases: %w", ErrPersistence, err)
		}

		before := requeued + failed
		for _, job := range jobs {
			if job.Attempts < maxAttempts {
				ok, err := s.store.ReleaseExpiredLease(ctx, job.ID, now)
				if err != nil {
					return requeued, failed, fmt.Errorf("%w: releasing job %s: %w", ErrPersistence, job.ID, err)
				}
				if !ok {
					continue
				}
				requeued++
				s.updateSession(ctx, job, models.JobStatusPending)
				continue
			}

			ok, err := s.store.FailExpiredLease(ctx, job.ID, now, leaseExpiredError)
			if err != nil {
				return requeued, failed, fmt.Errorf("%w: failing job %s: %w", ErrPersistence, job.ID, err)
			}
			if !ok {
				continue
			}
			failed++
			s.updateSession(ctx, job, models.JobStatusFailed,
				store.WithAnalysisError(leaseExpiredError), store.IncrementRetryCount())
		}
		if len(jobs) < s.batch || requeued+failed == before {
			break
		}
	}

	if requeued+failed > 0 {
		s.metrics.JobsReaped(requeued, failed)
		s.logger.InfoContext(ctx, "expired analysis leases reaped", "requeued", requeued, "failed", failed)
	}
	if requeued > 0 {
		s.waker.Wake()
	}
	return requeued, failed, nil
}

func (s *Service) updateSession(ctx context.Context, job *models.AnalysisJob, status string, opts ...store.SessionUpdateOption) {
	if err := s.store.UpdateSessionAnalysis(ctx, job.SessionID, status, opts...); err != nil {
		s.logger.WarnContext(ctx, "updating session after reap failed",
			"job_id", job.ID, "session_id", job.SessionID, "status", status, "error", err)
	}
}
