package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/callcoach/internal/ai"
	"github.com/kiranshivaraju/callcoach/internal/cache"
	"github.com/kiranshivaraju/callcoach/internal/metrics"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// MinTranscriptLength is the shortest trimmed transcript, in characters, sent to the provider.
const MinTranscriptLength = 50

const (
	degenerateModel    = "none"
	degenerateSummary  = "The call was too short to analyze. No scores were recorded."
	degenerateNextStep = "Complete a longer practice call so there is enough conversation to score."
)

// SkillGate applies scores to the skill profile at most once per user and scenario.
type SkillGate interface {
	Apply(ctx context.Context, session *models.Session, categoryScores map[string]float64) (bool, error)
}

// ProcessorConfig holds the Processor's dependencies. Cache, Gate and Metrics may be nil.
type ProcessorConfig struct {
	Store            store.Store
	Provider         models.AnalysisProvider
	Cache            cache.Cache
	Gate             SkillGate
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	InferenceTimeout time.Duration
}

// Processor scores one claimed job and records the outcome.
type Processor struct {
	store    store.Store
	provider models.AnalysisProvider
	cache    cache.Cache
	gate     SkillGate
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.InferenceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Processor{
		store:    cfg.Store,
		provider: cfg.Provider,
		cache:    cfg.Cache,
		gate:     cfg.Gate,
		metrics:  cfg.Metrics,
		logger:   logger,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the analysis for job, which workerID must hold the lease on.
// Results are written first, then the session, then the job. Session writes only land while
// the lease is held; a worker that lost it leaves the session to the new owner and returns nil.
// A returned error means the job was marked failed, and its session with it.
func (p *Processor) Process(ctx context.Context, job *models.AnalysisJob, workerID string) (err error) {
	start := p.now()
	log := p.logger.With("job_id", job.ID, "session_id", job.SessionID, "worker_id", workerID)

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic in analysis", "error", r)
			err = p.fail(ctx, job, workerID, start, fmt.Errorf("panic: %v", r))
		}
	}()

	lease := store.WithJobLease(job.ID, workerID)

	switch err := p.store.UpdateSessionAnalysis(ctx, job.SessionID, models.JobStatusProcessing,
		store.WithStartedAt(start), lease); {
	case errors.Is(err, store.ErrJobNotOwned):
		p.leaseLost(ctx, log, "lease lost before analysis started")
		return nil
	case err != nil:
		return p.fail(ctx, job, workerID, start, fmt.Errorf("%w: marking session processing: %w", ErrPersistence, err))
	}

	sc, err := p.store.GetSessionContext(ctx, job.SessionID)
	if err != nil {
		return p.fail(ctx, job, workerID, start, fmt.Errorf("%w: loading session context: %w", ErrPersistence, err))
	}

	card, model, outcome, err := p.score(ctx, sc)
	if err != nil {
		return p.fail(ctx, job, workerID, start, err)
	}

	finished := p.now()
	entry := models.NewResultCacheEntry(job.SessionID, card, model, finished.Sub(start), finished)
	if err := p.store.UpsertResult(ctx, &entry); err != nil {
		return p.fail(ctx, job, workerID, start, fmt.Errorf("%w: storing result: %w", ErrPersistence, err))
	}
	if p.cache != nil {
		if err := p.cache.SetResult(ctx, &entry, cache.ResultTTL); err != nil {
			log.WarnContext(ctx, "result cache write failed", "error", err)
		}
	}

	categories := card.Scores()
	switch err := p.store.UpdateSessionAnalysis(ctx, job.SessionID, models.JobStatusCompleted,
		store.WithScores(card.OverallScore, categories, card.Strengths, card.Improvements),
		store.WithCompletedAt(finished),
		store.ClearAnalysisError(),
		lease,
	); {
	case errors.Is(err, store.ErrJobNotOwned):
		p.leaseLost(ctx, log, "lease lost before completion")
		return nil
	case err != nil:
		return p.fail(ctx, job, workerID, start, fmt.Errorf("%w: completing session: %w", ErrPersistence, err))
	}

	switch err := p.store.CompleteJob(ctx, job.ID, workerID); {
	case errors.Is(err, store.ErrJobNotOwned):
		// Another worker owns the job now and will write the same result. Leave the
		// skill profile to it.
		p.leaseLost(ctx, log, "lease lost before completion")
		return nil
	case err != nil:
		return fmt.Errorf("%w: completing job: %w", ErrPersistence, err)
	}

	p.applySkills(ctx, log, &sc.Session, categories)

	p.metrics.JobProcessed(outcome, p.now().Sub(start))
	log.InfoContext(ctx, "analysis completed",
		"overall_score", card.OverallScore, "model", model, "duration_ms", finished.Sub(start).Milliseconds())
	return nil
}

// score produces the scorecard, skipping the provider for transcripts too short to analyze.
func (p *Processor) score(ctx context.Context, sc *models.SessionContext) (models.Scorecard, string, string, error) {
	if utf8.RuneCountInString(strings.TrimSpace(sc.Session.Transcript)) < MinTranscriptLength {
		return degenerateScorecard(), degenerateModel, metrics.OutcomeDegenerate, nil
	}

	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.provider.Analyze(actx, models.NewAnalysisRequest(*sc))
	if err != nil {
		return models.Scorecard{}, "", "", fmt.Errorf("%w: %s: %w", ErrProvider, p.provider.Name(), err)
	}

	card, err := ai.ParseScorecard(resp.Text)
	if err != nil {
		return models.Scorecard{}, "", "", fmt.Errorf("%w: %s: %w", ErrProvider, p.provider.Name(), err)
	}

	model := resp.Model
	if model == "" {
		model = p.provider.Name()
	}
	return card, model, metrics.OutcomeCompleted, nil
}

func (p *Processor) applySkills(ctx context.Context, log *slog.Logger, session *models.Session, categories map[string]float64) {
	if p.gate == nil {
		return
	}
	updated, err := p.gate.Apply(ctx, session, categories)
	if err != nil {
		log.WarnContext(ctx, "skill profile update failed", "error", err)
		return
	}
	if updated {
		p.metrics.ProfileUpdated()
	}
}

func (p *Processor) leaseLost(ctx context.Context, log *slog.Logger, msg string, args ...any) {
	p.metrics.LeaseLost()
	log.WarnContext(ctx, msg, args...)
}

// fail records cause on the job and then on the session, returning cause. A worker that no
// longer holds the lease leaves both alone and returns nil. The writes outlive ctx
// cancellation so a shutdown mid-analysis still leaves the job failed rather than leased.
func (p *Processor) fail(ctx context.Context, job *models.AnalysisJob, workerID string, start time.Time, cause error) error {
	wctx := context.WithoutCancel(ctx)
	msg := cause.Error()
	log := p.logger.With("job_id", job.ID, "session_id", job.SessionID, "worker_id", workerID)

	sessionOpts := []store.SessionUpdateOption{store.WithAnalysisError(msg), store.IncrementRetryCount()}
	switch err := p.store.FailJob(wctx, job.ID, workerID, msg); {
	case errors.Is(err, store.ErrJobNotOwned):
		p.leaseLost(ctx, log, "lease lost before failure was recorded", "error", msg)
		return nil
	case err != nil:
		// The job row is still ours; only touch the session while that holds.
		log.ErrorContext(ctx, "marking job failed", "error", err)
		sessionOpts = append(sessionOpts, store.WithJobLease(job.ID, workerID))
	}

	if err := p.store.UpdateSessionAnalysis(wctx, job.SessionID, models.JobStatusFailed, sessionOpts...); err != nil {
		log.ErrorContext(ctx, "marking session failed", "error", err)
	}

	p.metrics.JobProcessed(metrics.OutcomeFailed, p.now().Sub(start))
	return cause
}

func degenerateScorecard() models.Scorecard {
	return models.Scorecard{
		OverallScore: 0,
		Categories:   map[string]models.CategoryScore{},
		Strengths:    []string{},
		Improvements: []string{},
		Summary:      degenerateSummary,
		NextSteps:    []string{degenerateNextStep},
	}
}
