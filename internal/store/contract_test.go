package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is one organization with a scenario and a user, ready to own sessions.
type fixture struct {
	s        store.Store
	org      *models.Organization
	scenario *models.Scenario
	userID   uuid.UUID
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	org := &models.Organization{
		ID: uuid.New(), Name: "Acme Sales", Industry: "SaaS",
		ProductContext: "CRM seats", Guidelines: "Always confirm budget",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateOrganization(ctx, org))

	sc := &models.Scenario{
		ID: uuid.New(), OrgID: org.ID, Name: "Cold call",
		Description: "Book a demo", Persona: "Skeptical CFO",
		Objectives: []string{"book demo", "qualify budget"}, CreatedAt: now,
	}
	require.NoError(t, s.CreateScenario(ctx, sc))

	return &fixture{s: s, org: org, scenario: sc, userID: uuid.New()}
}

func (f *fixture) session(t *testing.T, withScenario bool) *models.Session {
	t.Helper()
	sess := &models.Session{
		ID:         uuid.New(),
		OrgID:      f.org.ID,
		UserID:     f.userID,
		Transcript: "Rep: Hi, this is Sam from Acme. Prospect: We already have a vendor.",
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if withScenario {
		id := f.scenario.ID
		sess.ScenarioID = &id
	}
	require.NoError(t, f.s.CreateSession(context.Background(), sess))
	return sess
}

func (f *fixture) job(t *testing.T, priority int, queuedAt time.Time) *models.AnalysisJob {
	t.Helper()
	sess := f.session(t, false)
	job := &models.AnalysisJob{
		ID:        uuid.New(),
		SessionID: sess.ID,
		OrgID:     f.org.ID,
		Priority:  priority,
		Status:    models.JobStatusPending,
		QueuedAt:  queuedAt.UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, f.s.CreateJob(context.Background(), job))
	return job
}

// runContract exercises every Store method against a fresh store per subtest.
func runContract(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("ClaimOrdersByPriorityThenAge", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)

		low := f.job(t, 1, base)
		high := f.job(t, 5, base.Add(time.Second))
		mid := f.job(t, 3, base.Add(2*time.Second))
		highLater := f.job(t, 5, base.Add(3*time.Second))

		var got []uuid.UUID
		for {
			job, err := f.s.ClaimNextJob(ctx, "w1", 5*time.Minute)
			require.NoError(t, err)
			if job == nil {
				break
			}
			got = append(got, job.ID)
		}
		assert.Equal(t, []uuid.UUID{high.ID, highLater.ID, mid.ID, low.ID}, got)
	})

	t.Run("ClaimSetsLeaseAndAttempts", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		queued := f.job(t, models.DefaultJobPriority, time.Now())

		before := time.Now().UTC()
		job, err := f.s.ClaimNextJob(ctx, "worker-a", 5*time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.Equal(t, queued.ID, job.ID)
		assert.Equal(t, models.JobStatusProcessing, job.Status)
		require.NotNil(t, job.LockedBy)
		assert.Equal(t, "worker-a", *job.LockedBy)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.StartedAt)
		require.NotNil(t, job.LockExpiresAt)
		assert.WithinDuration(t, before.Add(5*time.Minute), *job.LockExpiresAt, 5*time.Second)
	})

	t.Run("ClaimEmptyQueueReturnsNil", func(t *testing.T) {
		f := newFixture(t, open(t))
		job, err := f.s.ClaimNextJob(context.Background(), "w1", time.Minute)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("ConcurrentClaimsNeverShareAJob", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		const jobs = 24
		const workers = 6

		base := time.Now().Add(-time.Hour)
		for i := 0; i < jobs; i++ {
			f.job(t, i%3, base.Add(time.Duration(i)*time.Millisecond))
		}

		var (
			mu      sync.Mutex
			claimed = map[uuid.UUID]string{}
			dupes   int
			wg      sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(workerID string) {
				defer wg.Done()
				for {
					job, err := f.s.ClaimNextJob(ctx, workerID, 5*time.Minute)
					if err != nil || job == nil {
						return
					}
					mu.Lock()
					if _, seen := claimed[job.ID]; seen {
						dupes++
					}
					claimed[job.ID] = workerID
					mu.Unlock()
				}
			}(uuid.NewString())
		}
		wg.Wait()

		assert.Zero(t, dupes)
		assert.Len(t, claimed, jobs)
	})

	t.Run("CompleteRequiresLeaseHolder", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		f.job(t, 5, time.Now())

		job, err := f.s.ClaimNextJob(ctx, "owner", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.ErrorIs(t, f.s.CompleteJob(ctx, job.ID, "intruder"), store.ErrJobNotOwned)
		require.NoError(t, f.s.CompleteJob(ctx, job.ID, "owner"))

		got, err := f.s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		assert.Nil(t, got.LockExpiresAt)

		// Completing twice is also a lost lease.
		assert.ErrorIs(t, f.s.CompleteJob(ctx, job.ID, "owner"), store.ErrJobNotOwned)
	})

	t.Run("FailRecordsError", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		f.job(t, 5, time.Now())

		job, err := f.s.ClaimNextJob(ctx, "owner", time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, f.s.FailJob(ctx, job.ID, "someone-else", "boom"), store.ErrJobNotOwned)
		require.NoError(t, f.s.FailJob(ctx, job.ID, "owner", "provider unavailable"))

		got, err := f.s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "provider unavailable", *got.LastError)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		f := newFixture(t, open(t))
		_, err := f.s.GetJob(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ResetFailedJobOnlyTouchesFailedRows", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		f.job(t, 5, time.Now())

		job, err := f.s.ClaimNextJob(ctx, "w", time.Minute)
		require.NoError(t, err)

		ok, err := f.s.ResetFailedJob(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok, "processing job must not be reset")

		require.NoError(t, f.s.FailJob(ctx, job.ID, "w", "timeout"))
		ok, err = f.s.ResetFailedJob(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := f.s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, got.Status)
		assert.Nil(t, got.LastError)
		assert.Nil(t, got.LockedBy)
		assert.Nil(t, got.CompletedAt)
		assert.Equal(t, 1, got.Attempts, "reset must not change attempts")
	})

	t.Run("ExpiredLeaseRelease", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		f.job(t, 5, time.Now())

		job, err := f.s.ClaimNextJob(ctx, "crashed", -time.Minute)
		require.NoError(t, err)

		ok, err := f.s.ReleaseExpiredLease(ctx, job.ID, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "lease has not expired as of an hour ago")

		ok, err = f.s.ReleaseExpiredLease(ctx, job.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := f.s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, got.Status)
		assert.Nil(t, got.LockedBy)
		assert.Equal(t, 1, got.Attempts)

		// The released job is claimable again and the lost worker can no longer complete it.
		again, err := f.s.ClaimNextJob(ctx, "rescuer", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 2, again.Attempts)
		assert.ErrorIs(t, f.s.CompleteJob(ctx, job.ID, "crashed"), store.ErrJobNotOwned)
	})

	t.Run("ExpiredLeaseFail", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		f.job(t, 5, time.Now())

		job, err := f.s.ClaimNextJob(ctx, "crashed", -time.Minute)
		require.NoError(t, err)

		ok, err := f.s.FailExpiredLease(ctx, job.ID, time.Now(), "lease expired")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := f.s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "lease expired", *got.LastError)

		ok, err = f.s.FailExpiredLease(ctx, job.ID, time.Now(), "lease expired")
		require.NoError(t, err)
		assert.False(t, ok, "already failed")
	})

	t.Run("ListJobsFilters", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)
		f.job(t, 5, base)
		f.job(t, 5, base.Add(time.Second))
		f.job(t, 5, base.Add(2*time.Second))

		first, err := f.s.ClaimNextJob(ctx, "w", -time.Minute)
		require.NoError(t, err)
		require.NoError(t, f.s.FailJob(ctx, first.ID, "w", "x"))
		second, err := f.s.ClaimNextJob(ctx, "w", -time.Minute)
		require.NoError(t, err)

		failed, err := f.s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusFailed, AttemptsBelow: 3})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, first.ID, failed[0].ID)

		exhausted, err := f.s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusFailed, AttemptsBelow: 1})
		require.NoError(t, err)
		assert.Empty(t, exhausted)

		now := time.Now()
		expired, err := f.s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusProcessing, LockExpiredBefore: &now})
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, second.ID, expired[0].ID)

		orgID := f.org.ID
		all, err := f.s.ListJobs(ctx, store.JobFilter{OrgID: &orgID})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		other := uuid.New()
		none, err := f.s.ListJobs(ctx, store.JobFilter{OrgID: &other})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("PendingQueueRanking", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)
		a := f.job(t, 1, base)
		b := f.job(t, 9, base.Add(time.Second))
		c := f.job(t, 1, base.Add(2*time.Second))

		entries, err := f.s.PendingQueue(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, b.ID, entries[0].JobID)
		assert.Equal(t, a.ID, entries[1].JobID)
		assert.Equal(t, c.ID, entries[2].JobID)
		assert.Equal(t, b.SessionID, entries[0].SessionID)
		assert.Equal(t, 9, entries[0].Priority)
	})

	t.Run("DeleteCompletedJobsBefore", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		f.job(t, 5, time.Now())
		f.job(t, 5, time.Now().Add(time.Millisecond))
		pending := f.job(t, 1, time.Now().Add(2*time.Millisecond))

		done, err := f.s.ClaimNextJob(ctx, "w", time.Minute)
		require.NoError(t, err)
		require.NoError(t, f.s.CompleteJob(ctx, done.ID, "w"))
		failed, err := f.s.ClaimNextJob(ctx, "w", time.Minute)
		require.NoError(t, err)
		require.NoError(t, f.s.FailJob(ctx, failed.ID, "w", "x"))

		n, err := f.s.DeleteCompletedJobsBefore(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n, "recently completed job is inside the window")

		n, err = f.s.DeleteCompletedJobsBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = f.s.GetJob(ctx, done.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = f.s.GetJob(ctx, failed.ID)
		assert.NoError(t, err)
		_, err = f.s.GetJob(ctx, pending.ID)
		assert.NoError(t, err)
	})

	t.Run("SessionAnalysisUpdates", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		sess := f.session(t, false)

		err := f.s.UpdateSessionAnalysis(ctx, sess.ID, models.JobStatusPending, store.WithOrgID(uuid.New()))
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, sess.ID, models.JobStatusPending, store.WithOrgID(f.org.ID)))
		started := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, sess.ID, models.JobStatusProcessing, store.WithStartedAt(started)))
		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, sess.ID, models.JobStatusFailed,
			store.WithAnalysisError("provider down"), store.IncrementRetryCount()))

		got, err := f.s.GetSession(ctx, sess.ID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.AnalysisStatus)
		require.NotNil(t, got.AnalysisError)
		assert.Equal(t, "provider down", *got.AnalysisError)
		assert.Equal(t, 1, got.AnalysisRetryCount)
		require.NotNil(t, got.AnalysisStartedAt)
		assert.WithinDuration(t, started, *got.AnalysisStartedAt, time.Millisecond)

		completed := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, sess.ID, models.JobStatusCompleted,
			store.ClearAnalysisError(),
			store.WithCompletedAt(completed),
			store.WithScores(82, map[string]float64{"discovery": 90, "closing": 74},
				[]string{"rapport"}, []string{"ask for the meeting"})))

		got, err = f.s.GetSession(ctx, sess.ID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, got.AnalysisStatus)
		assert.Nil(t, got.AnalysisError)
		require.NotNil(t, got.OverallScore)
		assert.InDelta(t, 82, *got.OverallScore, 0.001)
		assert.Equal(t, map[string]float64{"discovery": 90, "closing": 74}, got.CategoryScores)
		assert.Equal(t, []string{"rapport"}, got.Strengths)
		assert.Equal(t, []string{"ask for the meeting"}, got.Improvements)

		_, err = f.s.GetSession(ctx, sess.ID, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SessionContext", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()

		withScenario := f.session(t, true)
		sc, err := f.s.GetSessionContext(ctx, withScenario.ID)
		require.NoError(t, err)
		assert.Equal(t, withScenario.Transcript, sc.Session.Transcript)
		assert.Equal(t, "Acme Sales", sc.Organization.Name)
		assert.Equal(t, "Always confirm budget", sc.Organization.Guidelines)
		require.NotNil(t, sc.Scenario)
		assert.Equal(t, "Skeptical CFO", sc.Scenario.Persona)
		assert.Equal(t, []string{"book demo", "qualify budget"}, sc.Scenario.Objectives)

		freeForm := f.session(t, false)
		sc, err = f.s.GetSessionContext(ctx, freeForm.ID)
		require.NoError(t, err)
		assert.Nil(t, sc.Scenario)

		_, err = f.s.GetSessionContext(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SessionUpdateWithJobLease", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		queued := f.job(t, models.DefaultJobPriority, time.Now())
		job, err := f.s.ClaimNextJob(ctx, "worker-a", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)

		err = f.s.UpdateSessionAnalysis(ctx, queued.SessionID, models.JobStatusProcessing,
			store.WithJobLease(job.ID, "worker-b"))
		assert.ErrorIs(t, err, store.ErrJobNotOwned)

		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, queued.SessionID, models.JobStatusProcessing,
			store.WithJobLease(job.ID, "worker-a")))

		require.NoError(t, f.s.CompleteJob(ctx, job.ID, "worker-a"))
		err = f.s.UpdateSessionAnalysis(ctx, queued.SessionID, models.JobStatusFailed,
			store.WithJobLease(job.ID, "worker-a"), store.WithAnalysisError("late failure"))
		assert.ErrorIs(t, err, store.ErrJobNotOwned, "a finished job no longer guards its session")

		other := f.session(t, false)
		err = f.s.UpdateSessionAnalysis(ctx, other.ID, models.JobStatusProcessing,
			store.WithJobLease(job.ID, "worker-a"))
		assert.ErrorIs(t, err, store.ErrJobNotOwned, "the lease only covers its own session")
	})

	t.Run("HasEarlierAttempt", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		first := f.session(t, true)
		second := f.session(t, true)
		base := time.Now().UTC().Truncate(time.Microsecond)

		found, err := f.s.HasEarlierAttempt(ctx, f.userID, f.scenario.ID, second.ID)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, first.ID, models.JobStatusCompleted,
			store.WithCompletedAt(base)))

		found, err = f.s.HasEarlierAttempt(ctx, f.userID, f.scenario.ID, second.ID)
		require.NoError(t, err)
		assert.True(t, found, "an unfinished session sees any completed attempt")

		require.NoError(t, f.s.UpdateSessionAnalysis(ctx, second.ID, models.JobStatusCompleted,
			store.WithCompletedAt(base.Add(time.Second))))

		found, err = f.s.HasEarlierAttempt(ctx, f.userID, f.scenario.ID, second.ID)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = f.s.HasEarlierAttempt(ctx, f.userID, f.scenario.ID, first.ID)
		require.NoError(t, err)
		assert.False(t, found, "a later completion does not count against the earliest")

		found, err = f.s.HasEarlierAttempt(ctx, uuid.New(), f.scenario.ID, second.ID)
		require.NoError(t, err)
		assert.False(t, found, "other users do not count")
	})

	t.Run("HasEarlierAttemptTieBreaksOnID", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		a := f.session(t, true)
		b := f.session(t, true)
		at := time.Now().UTC().Truncate(time.Microsecond)
		for _, s := range []*models.Session{a, b} {
			require.NoError(t, f.s.UpdateSessionAnalysis(ctx, s.ID, models.JobStatusCompleted, store.WithCompletedAt(at)))
		}

		foundA, err := f.s.HasEarlierAttempt(ctx, f.userID, f.scenario.ID, a.ID)
		require.NoError(t, err)
		foundB, err := f.s.HasEarlierAttempt(ctx, f.userID, f.scenario.ID, b.ID)
		require.NoError(t, err)
		assert.NotEqual(t, foundA, foundB, "exactly one of two simultaneous attempts is first")
	})

	t.Run("ResultUpsertLastWriteWins", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		sess := f.session(t, false)

		first := models.ResultCacheEntry{
			SessionID:    sess.ID,
			OverallScore: 40,
			CategoryScores: map[string]models.CategoryScore{
				"discovery": {Score: 40, Feedback: "shallow questions"},
			},
			Summary:   "first pass",
			Strengths: []string{"polite"}, Improvements: []string{"dig deeper"},
			NextSteps: []string{"practice discovery"},
			ModelUsed: "gpt-4o", AnalysisDurationMs: 1200,
			CachedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, f.s.UpsertResult(ctx, &first))

		second := first
		second.OverallScore = 77
		second.Summary = "second pass"
		second.KeyMoment = &models.KeyMoment{Timestamp: "01:12", Quote: "What keeps you up at night?", Insight: "good open question"}
		second.CategoryScores = map[string]models.CategoryScore{
			"discovery": {Score: 77, Feedback: "better", KeyMoments: []models.KeyMoment{{Quote: "tell me more"}}},
		}
		second.CachedAt = first.CachedAt.Add(time.Minute)
		require.NoError(t, f.s.UpsertResult(ctx, &second))

		got, err := f.s.GetResult(ctx, sess.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, second.CachedAt, got.CachedAt, time.Millisecond)
		got.CachedAt = second.CachedAt
		assert.Equal(t, second, *got)

		_, err = f.s.GetResult(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SkillProfileUpdate", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		first := f.session(t, false)
		second := f.session(t, false)

		_, err := f.s.GetSkillProfile(ctx, f.userID, f.org.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		p, err := f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, first.ID, func(p *models.SkillProfile) error {
			assert.Equal(t, 0, p.TotalSessionsAnalyzed)
			p.CategoryScores["discovery"] = 80
			p.TotalSessionsAnalyzed++
			p.StrongestSkills = []string{"discovery"}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, p.TotalSessionsAnalyzed)

		_, err = f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, second.ID, func(p *models.SkillProfile) error {
			assert.Equal(t, 1, p.TotalSessionsAnalyzed)
			assert.InDelta(t, 80, p.CategoryScores["discovery"], 0.001)
			p.TotalSessionsAnalyzed++
			return nil
		})
		require.NoError(t, err)

		got, err := f.s.GetSkillProfile(ctx, f.userID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.TotalSessionsAnalyzed)
		assert.Equal(t, []string{"discovery"}, got.StrongestSkills)

		_, err = f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, uuid.New(), func(*models.SkillProfile) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SkillProfileUpdateAppliesOncePerSession", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		sess := f.session(t, false)
		bump := func(p *models.SkillProfile) error {
			p.TotalSessionsAnalyzed++
			return nil
		}

		_, err := f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, sess.ID, bump)
		require.NoError(t, err)

		called := false
		_, err = f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, sess.ID, func(p *models.SkillProfile) error {
			called = true
			return bump(p)
		})
		assert.ErrorIs(t, err, store.ErrSkillProfileApplied)
		assert.False(t, called)

		got, err := f.s.GetSkillProfile(ctx, f.userID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.TotalSessionsAnalyzed)
	})

	t.Run("SkillProfileUpdateAppliesOncePerScenario", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		first := f.session(t, true)
		second := f.session(t, true)
		bump := func(p *models.SkillProfile) error {
			p.TotalSessionsAnalyzed++
			return nil
		}

		_, err := f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, first.ID, bump)
		require.NoError(t, err)
		_, err = f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, second.ID, bump)
		assert.ErrorIs(t, err, store.ErrSkillProfileApplied)

		// A failed fn leaves the session unmarked.
		free := f.session(t, false)
		_, err = f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, free.ID, func(*models.SkillProfile) error {
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		_, err = f.s.UpdateSkillProfile(ctx, f.userID, f.org.ID, free.ID, bump)
		require.NoError(t, err)

		got, err := f.s.GetSkillProfile(ctx, f.userID, f.org.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.TotalSessionsAnalyzed)
	})

	t.Run("APIKeys", func(t *testing.T) {
		f := newFixture(t, open(t))
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		key := &models.APIKey{
			ID: uuid.New(), OrgID: f.org.ID, Name: "ci", KeyHash: "hash",
			KeyPrefix: "cc_abcd", Scopes: []string{"analysis:write"},
			CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, f.s.CreateAPIKey(ctx, key))

		dup := *key
		dup.KeyPrefix = "cc_efgh"
		assert.ErrorIs(t, f.s.CreateAPIKey(ctx, &dup), store.ErrDuplicateKey)

		keys, err := f.s.GetAPIKeyByPrefix(ctx, "cc_abcd")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, []string{"analysis:write"}, keys[0].Scopes)

		require.NoError(t, f.s.UpdateAPIKeyLastUsed(ctx, key.ID))
		listed, err := f.s.ListAPIKeys(ctx, f.org.ID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.NotNil(t, listed[0].LastUsedAt)

		require.NoError(t, f.s.RevokeAPIKey(ctx, key.ID, f.org.ID))
		assert.ErrorIs(t, f.s.RevokeAPIKey(ctx, key.ID, f.org.ID), store.ErrNotFound)

		keys, err = f.s.GetAPIKeyByPrefix(ctx, "cc_abcd")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
