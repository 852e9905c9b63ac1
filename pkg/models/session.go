package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a finished practice call. Only the analysis fields are written by the queue.
// AnalysisStatus is empty until the session is first queued, then mirrors its latest job.
type Session struct {
	ID                  uuid.UUID          `db:"id"                    json:"id"                              gorm:"type:text;primaryKey"`
	OrgID               uuid.UUID          `db:"org_id"                json:"org_id"                          gorm:"type:text"`
	UserID              uuid.UUID          `db:"user_id"               json:"user_id"                         gorm:"type:text;index"`
	ScenarioID          *uuid.UUID         `db:"scenario_id"           json:"scenario_id,omitempty"           gorm:"type:text"`
	Transcript          string             `db:"transcript"            json:"-"`
	AnalysisStatus      string             `db:"analysis_status"       json:"analysis_status"`
	AnalysisStartedAt   *time.Time         `db:"analysis_started_at"   json:"analysis_started_at,omitempty"`
	AnalysisCompletedAt *time.Time         `db:"analysis_completed_at" json:"analysis_completed_at,omitempty"`
	AnalysisError       *string            `db:"analysis_error"        json:"analysis_error,omitempty"`
	AnalysisRetryCount  int                `db:"analysis_retry_count"  json:"analysis_retry_count"`
	OverallScore        *float64           `db:"overall_score"         json:"overall_score,omitempty"`
	CategoryScores      map[string]float64 `db:"category_scores"       json:"category_scores,omitempty"       gorm:"serializer:json"`
	Strengths           []string           `db:"strengths"             json:"strengths,omitempty"             gorm:"serializer:json"`
	Improvements        []string           `db:"improvements"          json:"improvements,omitempty"          gorm:"serializer:json"`
	// SkillProfileAppliedAt is set once the session's scores have been folded into the skill profile.
	SkillProfileAppliedAt *time.Time `db:"skill_profile_applied_at" json:"-"`
	CreatedAt             time.Time  `db:"created_at"               json:"created_at"`
}

// SessionContext bundles what the analysis provider needs for one session.
// Scenario is nil for free-form practice calls.
type SessionContext struct {
	Session      Session
	Organization Organization
	Scenario     *Scenario
}
