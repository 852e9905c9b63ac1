// Package skills owns skill-profile recalibration and the gate that keeps it to one update per scenario.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// AttemptChecker reports whether an attempt completed before the given session. store.Store satisfies it.
type AttemptChecker interface {
	HasEarlierAttempt(ctx context.Context, userID, scenarioID, sessionID uuid.UUID) (bool, error)
}

// Gate applies a session's scores to the skill profile only on the user's earliest completed
// attempt at a scenario, and at most once per session. Sessions without a scenario always count.
type Gate struct {
	attempts   AttemptChecker
	aggregator Aggregator
	logger     *slog.Logger
}

func NewGate(attempts AttemptChecker, aggregator Aggregator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{attempts: attempts, aggregator: aggregator, logger: logger}
}

// Apply reports whether the profile was updated.
func (g *Gate) Apply(ctx context.Context, session *models.Session, categoryScores map[string]float64) (bool, error) {
	if len(categoryScores) == 0 {
		return false, nil
	}

	if session.ScenarioID != nil {
		prior, err := g.attempts.HasEarlierAttempt(ctx, session.UserID, *session.ScenarioID, session.ID)
		if err != nil {
			return false, fmt.Errorf("checking prior attempts: %w", err)
		}
		if prior {
			g.logger.DebugContext(ctx, "skill profile unchanged for repeat attempt",
				"session_id", session.ID, "scenario_id", *session.ScenarioID)
			return false, nil
		}
	}

	_, err := g.aggregator.Update(ctx, session.UserID, session.OrgID, models.SessionScores{
		SessionID:  session.ID,
		Categories: categoryScores,
	})
	switch {
	case errors.Is(err, store.ErrSkillProfileApplied):
		g.logger.DebugContext(ctx, "skill profile already updated", "session_id", session.ID)
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}
