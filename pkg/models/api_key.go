package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey represents an authentication key for the HTTP API and queuectl.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"           gorm:"type:text;primaryKey"`
	OrgID      uuid.UUID  `db:"org_id"       json:"org_id"       gorm:"type:text"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"   gorm:"index"`
	Scopes     []string   `db:"scopes"       json:"scopes"       gorm:"serializer:json"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
