package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Scorecard is the structured output of one analysis pass.
type Scorecard struct {
	OverallScore float64                  `json:"overall_score"`
	Categories   map[string]CategoryScore `json:"categories"`
	Strengths    []string                 `json:"strengths"`
	Improvements []string                 `json:"improvements"`
	KeyMoment    *KeyMoment               `json:"key_moment"`
	Summary      string                   `json:"summary"`
	NextSteps    []string                 `json:"next_steps"`
}

// CategoryScore is the score and feedback for one skill category.
type CategoryScore struct {
	Score      float64     `json:"score"`
	Feedback   string      `json:"feedback"`
	KeyMoments []KeyMoment `json:"key_moments"`
}

// KeyMoment points at a notable exchange in the transcript.
type KeyMoment struct {
	Timestamp string `json:"timestamp,omitempty"`
	Quote     string `json:"quote,omitempty"`
	Insight   string `json:"insight,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare string, which is kept as the quote.
func (k *KeyMoment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = KeyMoment{Quote: s}
		return nil
	}
	type plain KeyMoment
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*k = KeyMoment(p)
	return nil
}

// Scores flattens the category map to category -> score.
func (s Scorecard) Scores() map[string]float64 {
	out := make(map[string]float64, len(s.Categories))
	for name, c := range s.Categories {
		out[name] = c.Score
	}
	return out
}

// ResultCacheEntry is the stored scorecard for a session. There is at most one per session.
type ResultCacheEntry struct {
	SessionID          uuid.UUID                `db:"session_id"           json:"session_id"                gorm:"type:text;primaryKey"`
	OverallScore       float64                  `db:"overall_score"        json:"overall_score"`
	CategoryScores     map[string]CategoryScore `db:"category_scores"      json:"category_scores"           gorm:"serializer:json"`
	Summary            string                   `db:"summary"              json:"summary"`
	Strengths          []string                 `db:"strengths"            json:"strengths"                 gorm:"serializer:json"`
	Improvements       []string                 `db:"improvements"         json:"improvements"              gorm:"serializer:json"`
	KeyMoment          *KeyMoment               `db:"key_moment"           json:"key_moment,omitempty"      gorm:"serializer:json"`
	NextSteps          []string                 `db:"next_steps"           json:"next_steps"                gorm:"serializer:json"`
	ModelUsed          string                   `db:"model_used"           json:"model_used"`
	AnalysisDurationMs int64                    `db:"analysis_duration_ms" json:"analysis_duration_ms"`
	CachedAt           time.Time                `db:"cached_at"            json:"cached_at"`
}

// TableName keeps the gorm table aligned with the SQL migrations.
func (ResultCacheEntry) TableName() string {
	return "analysis_results"
}

// NewResultCacheEntry builds the stored form of a scorecard.
func NewResultCacheEntry(sessionID uuid.UUID, card Scorecard, model string, duration time.Duration, cachedAt time.Time) ResultCacheEntry {
	return ResultCacheEntry{
		SessionID:          sessionID,
		OverallScore:       card.OverallScore,
		CategoryScores:     card.Categories,
		Summary:            card.Summary,
		Strengths:          card.Strengths,
		Improvements:       card.Improvements,
		KeyMoment:          card.KeyMoment,
		NextSteps:          card.NextSteps,
		ModelUsed:          model,
		AnalysisDurationMs: duration.Milliseconds(),
		CachedAt:           cachedAt,
	}
}
