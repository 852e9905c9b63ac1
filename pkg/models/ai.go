// Package models contains shared data models used across the callcoach codebase.
package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AnalysisProvider is the core interface that all AI integrations must implement.
// Never call specific AI providers directly; always inject this interface.
type AnalysisProvider interface {
	// Analyze scores one practice call. The response text may wrap the JSON scorecard in prose.
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// AnalysisRequest is the input to an AI analysis operation.
type AnalysisRequest struct {
	Transcript   string
	Session      SessionInfo
	Organization OrganizationInfo
	Scenario     *ScenarioInfo // nil for free-form practice
}

// SessionInfo is the per-call context sent to the provider.
type SessionInfo struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OrganizationInfo is the organization context sent to the provider.
type OrganizationInfo struct {
	Name           string `json:"name"`
	Industry       string `json:"industry,omitempty"`
	ProductContext string `json:"product_context,omitempty"`
	Guidelines     string `json:"guidelines,omitempty"`
}

// ScenarioInfo is the scenario context sent to the provider.
type ScenarioInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Persona     string   `json:"persona,omitempty"`
	Objectives  []string `json:"objectives,omitempty"`
}

// AnalysisResponse is the raw provider output.
type AnalysisResponse struct {
	Text  string
	Model string
}

// NewAnalysisRequest assembles a provider request from a loaded session context.
func NewAnalysisRequest(sc SessionContext) AnalysisRequest {
	req := AnalysisRequest{
		Transcript: sc.Session.Transcript,
		Session: SessionInfo{
			SessionID: sc.Session.ID,
			UserID:    sc.Session.UserID,
			CreatedAt: sc.Session.CreatedAt,
		},
		Organization: OrganizationInfo{
			Name:           sc.Organization.Name,
			Industry:       sc.Organization.Industry,
			ProductContext: sc.Organization.ProductContext,
			Guidelines:     sc.Organization.Guidelines,
		},
	}
	if sc.Scenario != nil {
		req.Scenario = &ScenarioInfo{
			Name:        sc.Scenario.Name,
			Description: sc.Scenario.Description,
			Persona:     sc.Scenario.Persona,
			Objectives:  sc.Scenario.Objectives,
		}
	}
	return req
}
