package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a customer account. Every session, job and key belongs to one.
type Organization struct {
	ID             uuid.UUID `db:"id"              json:"id"              gorm:"type:text;primaryKey"`
	Name           string    `db:"name"            json:"name"`
	Industry       string    `db:"industry"        json:"industry"`
	ProductContext string    `db:"product_context" json:"product_context"`
	Guidelines     string    `db:"guidelines"      json:"guidelines"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}

// Scenario is a practice exercise a user can attempt any number of times.
type Scenario struct {
	ID          uuid.UUID `db:"id"          json:"id"          gorm:"type:text;primaryKey"`
	OrgID       uuid.UUID `db:"org_id"      json:"org_id"      gorm:"type:text"`
	Name        string    `db:"name"        json:"name"`
	Description string    `db:"description" json:"description"`
	Persona     string    `db:"persona"     json:"persona"`
	Objectives  []string  `db:"objectives"  json:"objectives"  gorm:"serializer:json"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}
