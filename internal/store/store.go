package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrJobNotOwned is returned when a job is completed or failed by a worker that no longer holds its lease.
var ErrJobNotOwned = errors.New("job not owned by worker")

// ErrSkillProfileApplied is returned by UpdateSkillProfile when the session, or another attempt at
// the same scenario, has already been folded into the profile.
var ErrSkillProfileApplied = errors.New("skill profile already updated for session")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error

	CreateOrganization(ctx context.Context, org *models.Organization) error
	CreateScenario(ctx context.Context, sc *models.Scenario) error
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*models.Session, error)
	GetSessionContext(ctx context.Context, sessionID uuid.UUID) (*models.SessionContext, error)
	UpdateSessionAnalysis(ctx context.Context, sessionID uuid.UUID, status string, opts ...SessionUpdateOption) error
	// HasEarlierAttempt reports whether the user completed the scenario in a session that finished
	// before sessionID did. Equal completion times are ordered by session id.
	HasEarlierAttempt(ctx context.Context, userID, scenarioID, sessionID uuid.UUID) (bool, error)

	CreateJob(ctx context.Context, job *models.AnalysisJob) error
	// ClaimNextJob atomically leases the highest-priority, oldest pending job.
	// Returns nil, nil when no job is pending.
	ClaimNextJob(ctx context.Context, workerID string, lease time.Duration) (*models.AnalysisJob, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string) error
	FailJob(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.AnalysisJob, error)
	// PendingQueue returns every pending job ranked by the claim ordering.
	PendingQueue(ctx context.Context) ([]models.QueueEntry, error)
	ResetFailedJob(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseExpiredLease(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	FailExpiredLease(ctx context.Context, id uuid.UUID, now time.Time, errMsg string) (bool, error)
	DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertResult(ctx context.Context, entry *models.ResultCacheEntry) error
	GetResult(ctx context.Context, sessionID uuid.UUID) (*models.ResultCacheEntry, error)

	// UpdateSkillProfile loads (or initializes) the profile, applies fn, writes it back and marks
	// sessionID as applied in one transaction. It returns ErrSkillProfileApplied without calling fn
	// when sessionID, or another session of the same user and scenario, is already marked.
	UpdateSkillProfile(ctx context.Context, userID, orgID, sessionID uuid.UUID, fn func(*models.SkillProfile) error) (*models.SkillProfile, error)
	GetSkillProfile(ctx context.Context, userID, orgID uuid.UUID) (*models.SkillProfile, error)
}

// JobFilter narrows ListJobs. Zero values are ignored.
type JobFilter struct {
	OrgID  *uuid.UUID
	Status string
	// AttemptsBelow keeps jobs with attempts < AttemptsBelow.
	AttemptsBelow int
	// LockExpiredBefore keeps jobs whose lease expired before this instant.
	LockExpiredBefore *time.Time
	Limit             int
}

func (f JobFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	if f.Limit > 1000 {
		return 1000
	}
	return f.Limit
}

type sessionUpdateParams struct {
	OrgID          *uuid.UUID
	Lease          *jobLease
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	ClearError     bool
	IncrementRetry bool
	Scores         *sessionScores
}

type jobLease struct {
	JobID    uuid.UUID
	WorkerID string
}

type sessionScores struct {
	Overall      float64
	Categories   map[string]float64
	Strengths    []string
	Improvements []string
}

type SessionUpdateOption func(*sessionUpdateParams)

// WithOrgID scopes the update to one organization. A session in another org yields ErrNotFound.
func WithOrgID(id uuid.UUID) SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.OrgID = &id
	}
}

// WithJobLease makes the update conditional on workerID still holding the processing lease on
// jobID. A lost lease yields ErrJobNotOwned and leaves the session untouched.
func WithJobLease(jobID uuid.UUID, workerID string) SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.Lease = &jobLease{JobID: jobID, WorkerID: workerID}
	}
}

func WithStartedAt(t time.Time) SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.StartedAt = &t
	}
}

func WithCompletedAt(t time.Time) SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.CompletedAt = &t
	}
}

func WithAnalysisError(msg string) SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func ClearAnalysisError() SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.ClearError = true
	}
}

func IncrementRetryCount() SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.IncrementRetry = true
	}
}

// WithScores writes the scored fields of a completed analysis.
func WithScores(overall float64, categories map[string]float64, strengths, improvements []string) SessionUpdateOption {
	return func(p *sessionUpdateParams) {
		p.Scores = &sessionScores{
			Overall:      overall,
			Categories:   categories,
			Strengths:    strengths,
			Improvements: improvements,
		}
	}
}

func applySessionOptions(opts []SessionUpdateOption) *sessionUpdateParams {
	params := &sessionUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// newSkillProfile is the zero profile a user starts from.
func newSkillProfile(userID, orgID uuid.UUID) *models.SkillProfile {
	return &models.SkillProfile{
		UserID:          userID,
		OrgID:           orgID,
		CategoryScores:  map[string]float64{},
		StrongestSkills: []string{},
		WeakestSkills:   []string{},
	}
}
