package skills

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// rankedSkills is how many categories are listed as strongest and weakest.
const rankedSkills = 3

// Aggregator recalibrates a user's skill profile from one analyzed session.
// A session already folded into the profile yields store.ErrSkillProfileApplied.
type Aggregator interface {
	Update(ctx context.Context, userID, orgID uuid.UUID, scores models.SessionScores) (*models.SkillProfile, error)
}

// ProfileStore is the persistence StoreAggregator needs. store.Store satisfies it.
type ProfileStore interface {
	UpdateSkillProfile(ctx context.Context, userID, orgID, sessionID uuid.UUID, fn func(*models.SkillProfile) error) (*models.SkillProfile, error)
}

// StoreAggregator keeps a rolling per-category average in the store.
type StoreAggregator struct {
	store ProfileStore
	now   func() time.Time
}

func NewStoreAggregator(st ProfileStore) *StoreAggregator {
	return &StoreAggregator{store: st, now: func() time.Time { return time.Now().UTC() }}
}

func (a *StoreAggregator) Update(ctx context.Context, userID, orgID uuid.UUID, scores models.SessionScores) (*models.SkillProfile, error) {
	profile, err := a.store.UpdateSkillProfile(ctx, userID, orgID, scores.SessionID, func(p *models.SkillProfile) error {
		Recalibrate(p, scores.Categories, a.now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating skill profile for user %s: %w", userID, err)
	}
	return profile, nil
}

// Recalibrate folds one session's category scores into p.
// Known categories move to (old*n + score)/(n+1) where n is the number of sessions already analyzed;
// a category seen for the first time takes the session score.
func Recalibrate(p *models.SkillProfile, categories map[string]float64, at time.Time) {
	if p.CategoryScores == nil {
		p.CategoryScores = map[string]float64{}
	}
	n := float64(p.TotalSessionsAnalyzed)
	for name, score := range categories {
		if old, ok := p.CategoryScores[name]; ok {
			p.CategoryScores[name] = (old*n + score) / (n + 1)
		} else {
			p.CategoryScores[name] = score
		}
	}

	p.TotalSessionsAnalyzed++
	p.LastAnalyzedAt = &at
	p.UpdatedAt = at
	p.StrongestSkills, p.WeakestSkills = rank(p.CategoryScores)
}

// rank returns the top and bottom categories by score. Ties break on name.
func rank(scores map[string]float64) (strongest, weakest []string) {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})

	k := min(rankedSkills, len(names))
	strongest = append([]string{}, names[:k]...)

	weakest = make([]string, 0, k)
	for i := len(names) - 1; i >= len(names)-k; i-- {
		weakest = append(weakest, names[i])
	}
	return strongest, weakest
}
