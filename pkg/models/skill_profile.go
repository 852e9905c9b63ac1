package models

import (
	"time"

	"github.com/google/uuid"
)

// SkillProfile is a user's rolling skill aggregate within an organization.
type SkillProfile struct {
	UserID                uuid.UUID          `db:"user_id"                 json:"user_id"                 gorm:"type:text;primaryKey"`
	OrgID                 uuid.UUID          `db:"org_id"                  json:"org_id"                  gorm:"type:text;primaryKey"`
	CategoryScores        map[string]float64 `db:"category_scores"         json:"category_scores"         gorm:"serializer:json"`
	StrongestSkills       []string           `db:"strongest_skills"        json:"strongest_skills"        gorm:"serializer:json"`
	WeakestSkills         []string           `db:"weakest_skills"          json:"weakest_skills"          gorm:"serializer:json"`
	TotalSessionsAnalyzed int                `db:"total_sessions_analyzed" json:"total_sessions_analyzed"`
	LastAnalyzedAt        *time.Time         `db:"last_analyzed_at"        json:"last_analyzed_at,omitempty"`
	UpdatedAt             time.Time          `db:"updated_at"              json:"updated_at"`
}

// SessionScores is the input to one skill-profile recalibration.
type SessionScores struct {
	SessionID  uuid.UUID          `json:"session_id"`
	Categories map[string]float64 `json:"categories"`
}
