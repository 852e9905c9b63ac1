package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DefaultJobPriority is used when admission does not specify a priority.
const DefaultJobPriority = 5

// AnalysisJob is one queued scoring pass for a practice session.
// Workers claim pending jobs by priority (highest first), then queued_at (oldest first).
// A claim holds a lease until LockExpiresAt; only the lease holder may complete or fail the job.
type AnalysisJob struct {
	ID            uuid.UUID  `db:"id"              json:"id"              gorm:"type:text;primaryKey"`
	SessionID     uuid.UUID  `db:"session_id"      json:"session_id"      gorm:"type:text;index"`
	OrgID         uuid.UUID  `db:"org_id"          json:"org_id"          gorm:"type:text"`
	Priority      int        `db:"priority"        json:"priority"`
	Status        string     `db:"status"          json:"status"`
	QueuedAt      time.Time  `db:"queued_at"       json:"queued_at"`
	StartedAt     *time.Time `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
	LockedBy      *string    `db:"locked_by"       json:"locked_by,omitempty"`
	LockExpiresAt *time.Time `db:"lock_expires_at" json:"lock_expires_at,omitempty"`
	Attempts      int        `db:"attempts"        json:"attempts"`
	LastError     *string    `db:"last_error"      json:"last_error,omitempty"`
}

// QueueEntry is the slice of a pending job needed to rank the queue.
type QueueEntry struct {
	JobID     uuid.UUID `json:"job_id"`
	SessionID uuid.UUID `json:"session_id"`
	Priority  int       `json:"priority"`
	QueuedAt  time.Time `json:"queued_at"`
}
