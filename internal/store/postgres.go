package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, org_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OrgID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, org_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OrgID, key.Name, key.KeyHash, key.KeyPrefix, nonNil(key.Scopes), key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE org_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND org_id = $2 AND deleted_at IS NULL`, id, orgID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Organizations & Scenarios ---

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, industry, product_context, guidelines, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		org.ID, org.Name, org.Industry, org.ProductContext, org.Guidelines, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scenarios (id, org_id, name, description, persona, objectives, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sc.ID, sc.OrgID, sc.Name, sc.Description, sc.Persona, nonNil(sc.Objectives), sc.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create scenario: %w", err)
	}
	return nil
}

// --- Sessions ---

const sessionColumns = `s.id, s.org_id, s.user_id, s.scenario_id, s.transcript, s.analysis_status,
	s.analysis_started_at, s.analysis_completed_at, s.analysis_error, s.analysis_retry_count,
	s.overall_score, s.category_scores, s.strengths, s.improvements, s.created_at`

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	categories, err := marshalNullable(sess.CategoryScores)
	if err != nil {
		return fmt.Errorf("encode category scores: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, org_id, user_id, scenario_id, transcript, analysis_status,
		   analysis_retry_count, overall_score, category_scores, strengths, improvements, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sess.ID, sess.OrgID, sess.UserID, sess.ScenarioID, sess.Transcript, sess.AnalysisStatus,
		sess.AnalysisRetryCount, sess.OverallScore, categories, sess.Strengths, sess.Improvements, sess.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row, sess *models.Session, extra ...any) error {
	var categories []byte
	dest := []any{&sess.ID, &sess.OrgID, &sess.UserID, &sess.ScenarioID, &sess.Transcript, &sess.AnalysisStatus,
		&sess.AnalysisStartedAt, &sess.AnalysisCompletedAt, &sess.AnalysisError, &sess.AnalysisRetryCount,
		&sess.OverallScore, &categories, &sess.Strengths, &sess.Improvements, &sess.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &sess.CategoryScores); err != nil {
			return fmt.Errorf("decode category scores: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*models.Session, error) {
	var sess models.Session
	err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1 AND s.org_id = $2`, id, orgID), &sess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) GetSessionContext(ctx context.Context, sessionID uuid.UUID) (*models.SessionContext, error) {
	var (
		sc            models.SessionContext
		scenarioID    *uuid.UUID
		scName        *string
		scDescription *string
		scPersona     *string
		scObjectives  []string
	)
	o := &sc.Organization
	err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`,
		   o.id, o.name, o.industry, o.product_context, o.guidelines, o.created_at, o.updated_at,
		   sc.id, sc.name, sc.description, sc.persona, sc.objectives
		 FROM sessions s
		 JOIN organizations o ON o.id = s.org_id
		 LEFT JOIN scenarios sc ON sc.id = s.scenario_id
		 WHERE s.id = $1`, sessionID),
		&sc.Session,
		&o.ID, &o.Name, &o.Industry, &o.ProductContext, &o.Guidelines, &o.CreatedAt, &o.UpdatedAt,
		&scenarioID, &scName, &scDescription, &scPersona, &scObjectives)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session context: %w", err)
	}

	if scenarioID != nil {
		sc.Scenario = &models.Scenario{
			ID:          *scenarioID,
			OrgID:       sc.Organization.ID,
			Name:        deref(scName),
			Description: deref(scDescription),
			Persona:     deref(scPersona),
			Objectives:  scObjectives,
		}
	}
	return &sc, nil
}

func (s *PostgresStore) UpdateSessionAnalysis(ctx context.Context, sessionID uuid.UUID, status string, opts ...SessionUpdateOption) error {
	params := applySessionOptions(opts)

	query := `UPDATE sessions SET analysis_status = $2`
	args := []any{sessionID, status}
	argIdx := 3

	if params.StartedAt != nil {
		query += fmt.Sprintf(", analysis_started_at = $%d", argIdx)
		args = append(args, *params.StartedAt)
		argIdx++
	}
	if params.CompletedAt != nil {
		query += fmt.Sprintf(", analysis_completed_at = $%d", argIdx)
		args = append(args, *params.CompletedAt)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", analysis_error = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	} else if params.ClearError {
		query += ", analysis_error = NULL"
	}
	if params.IncrementRetry {
		query += ", analysis_retry_count = analysis_retry_count + 1"
	}
	if params.Scores != nil {
		categories, err := json.Marshal(params.Scores.Categories)
		if err != nil {
			return fmt.Errorf("encode category scores: %w", err)
		}
		query += fmt.Sprintf(", overall_score = $%d, category_scores = $%d, strengths = $%d, improvements = $%d",
			argIdx, argIdx+1, argIdx+2, argIdx+3)
		args = append(args, params.Scores.Overall, string(categories),
			nonNil(params.Scores.Strengths), nonNil(params.Scores.Improvements))
		argIdx += 4
	}

	query += " WHERE id = $1"
	if params.OrgID != nil {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, *params.OrgID)
		argIdx++
	}
	if params.Lease != nil {
		query += fmt.Sprintf(` AND EXISTS (
		  SELECT 1 FROM analysis_jobs
		  WHERE id = $%d AND session_id = sessions.id AND locked_by = $%d AND status = 'processing')`, argIdx, argIdx+1)
		args = append(args, params.Lease.JobID, params.Lease.WorkerID)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if params.Lease != nil {
			return ErrJobNotOwned
		}
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HasEarlierAttempt(ctx context.Context, userID, scenarioID, sessionID uuid.UUID) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM sessions o
		 JOIN sessions cur ON cur.id = $1
		 WHERE o.user_id = $2 AND o.scenario_id = $3 AND o.id <> cur.id AND o.analysis_status = 'completed'
		   AND (cur.analysis_completed_at IS NULL OR o.analysis_completed_at IS NULL
		        OR (o.analysis_completed_at, o.id) < (cur.analysis_completed_at, cur.id))
		 LIMIT 1`, sessionID, userID, scenarioID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find earlier attempt: %w", err)
	}
	return true, nil
}

// --- Jobs ---

const jobColumns = `id, session_id, org_id, priority, status, queued_at, started_at, completed_at,
	locked_by, lock_expires_at, attempts, last_error`

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := row.Scan(&j.ID, &j.SessionID, &j.OrgID, &j.Priority, &j.Status, &j.QueuedAt,
		&j.StartedAt, &j.CompletedAt, &j.LockedBy, &j.LockExpiresAt, &j.Attempts, &j.LastError)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (id, session_id, org_id, priority, status, queued_at, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.SessionID, job.OrgID, job.Priority, job.Status, job.QueuedAt, job.Attempts)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context, workerID string, lease time.Duration) (*models.AnalysisJob, error) {
	now := time.Now().UTC()
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE analysis_jobs
		 SET status = 'processing', locked_by = $1, lock_expires_at = $2, started_at = $3, attempts = attempts + 1
		 WHERE id = (
		   SELECT id FROM analysis_jobs
		   WHERE status = 'pending'
		   ORDER BY priority DESC, queued_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns, workerID, now.Add(lease), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = 'completed', completed_at = NOW(), lock_expires_at = NULL
		 WHERE id = $1 AND locked_by = $2 AND status = 'processing'`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotOwned
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = 'failed', last_error = $3, completed_at = NOW(), lock_expires_at = NULL
		 WHERE id = $1 AND locked_by = $2 AND status = 'processing'`, jobID, workerID, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotOwned
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.AnalysisJob, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.OrgID != nil {
		conditions = append(conditions, fmt.Sprintf("org_id = $%d", argIdx))
		args = append(args, *filter.OrgID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.AttemptsBelow > 0 {
		conditions = append(conditions, fmt.Sprintf("attempts < $%d", argIdx))
		args = append(args, filter.AttemptsBelow)
		argIdx++
	}
	if filter.LockExpiredBefore != nil {
		conditions = append(conditions, fmt.Sprintf("lock_expires_at < $%d", argIdx))
		args = append(args, *filter.LockExpiredBefore)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM analysis_jobs WHERE %s ORDER BY queued_at ASC LIMIT $%d`,
		jobColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) PendingQueue(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, priority, queued_at FROM analysis_jobs
		 WHERE status = 'pending' ORDER BY priority DESC, queued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending queue: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.JobID, &e.SessionID, &e.Priority, &e.QueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ResetFailedJob(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'pending', last_error = NULL, locked_by = NULL, lock_expires_at = NULL,
		     started_at = NULL, completed_at = NULL
		 WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return false, fmt.Errorf("reset failed job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseExpiredLease(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'pending', locked_by = NULL, lock_expires_at = NULL, started_at = NULL
		 WHERE id = $1 AND status = 'processing' AND lock_expires_at < $2`, id, now)
	if err != nil {
		return false, fmt.Errorf("release expired lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FailExpiredLease(ctx context.Context, id uuid.UUID, now time.Time, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'failed', last_error = $3, completed_at = $2, locked_by = NULL, lock_expires_at = NULL
		 WHERE id = $1 AND status = 'processing' AND lock_expires_at < $2`, id, now, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail expired lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analysis_jobs WHERE status = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete completed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Analysis Results ---

func (s *PostgresStore) UpsertResult(ctx context.Context, entry *models.ResultCacheEntry) error {
	categories, err := json.Marshal(entry.CategoryScores)
	if err != nil {
		return fmt.Errorf("encode category scores: %w", err)
	}
	keyMoment, err := marshalNullable(entry.KeyMoment)
	if err != nil {
		return fmt.Errorf("encode key moment: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_results (session_id, overall_score, category_scores, summary, strengths,
		   improvements, key_moment, next_steps, model_used, analysis_duration_ms, cached_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO UPDATE SET
		   overall_score = EXCLUDED.overall_score,
		   category_scores = EXCLUDED.category_scores,
		   summary = EXCLUDED.summary,
		   strengths = EXCLUDED.strengths,
		   improvements = EXCLUDED.improvements,
		   key_moment = EXCLUDED.key_moment,
		   next_steps = EXCLUDED.next_steps,
		   model_used = EXCLUDED.model_used,
		   analysis_duration_ms = EXCLUDED.analysis_duration_ms,
		   cached_at = EXCLUDED.cached_at`,
		entry.SessionID, entry.OverallScore, string(categories), entry.Summary, nonNil(entry.Strengths),
		nonNil(entry.Improvements), keyMoment, nonNil(entry.NextSteps), entry.ModelUsed,
		entry.AnalysisDurationMs, entry.CachedAt)
	if err != nil {
		return fmt.Errorf("upsert analysis result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResult(ctx context.Context, sessionID uuid.UUID) (*models.ResultCacheEntry, error) {
	var (
		r          models.ResultCacheEntry
		categories []byte
		keyMoment  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, overall_score, category_scores, summary, strengths, improvements,
		   key_moment, next_steps, model_used, analysis_duration_ms, cached_at
		 FROM analysis_results WHERE session_id = $1`, sessionID,
	).Scan(&r.SessionID, &r.OverallScore, &categories, &r.Summary, &r.Strengths, &r.Improvements,
		&keyMoment, &r.NextSteps, &r.ModelUsed, &r.AnalysisDurationMs, &r.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis result: %w", err)
	}

	if err := json.Unmarshal(categories, &r.CategoryScores); err != nil {
		return nil, fmt.Errorf("decode category scores: %w", err)
	}
	if len(keyMoment) > 0 {
		if err := json.Unmarshal(keyMoment, &r.KeyMoment); err != nil {
			return nil, fmt.Errorf("decode key moment: %w", err)
		}
	}
	return &r, nil
}

// --- Skill Profiles ---

func (s *PostgresStore) UpdateSkillProfile(ctx context.Context, userID, orgID, sessionID uuid.UUID, fn func(*models.SkillProfile) error) (*models.SkillProfile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin skill profile tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO skill_profiles (user_id, org_id, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id, org_id) DO NOTHING`, userID, orgID); err != nil {
		return nil, fmt.Errorf("init skill profile: %w", err)
	}

	// The profile row lock serializes every marker check for this user.
	p, err := scanSkillProfile(tx.QueryRow(ctx,
		`SELECT `+skillProfileColumns+` FROM skill_profiles WHERE user_id = $1 AND org_id = $2 FOR UPDATE`,
		userID, orgID))
	if err != nil {
		return nil, fmt.Errorf("lock skill profile: %w", err)
	}

	var (
		scenarioID *uuid.UUID
		appliedAt  *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT scenario_id, skill_profile_applied_at FROM sessions
		 WHERE id = $1 AND user_id = $2 AND org_id = $3`, sessionID, userID, orgID).Scan(&scenarioID, &appliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if appliedAt != nil {
		return nil, ErrSkillProfileApplied
	}
	if scenarioID != nil {
		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions
			   WHERE user_id = $1 AND scenario_id = $2 AND id <> $3 AND skill_profile_applied_at IS NOT NULL)`,
			userID, *scenarioID, sessionID).Scan(&applied); err != nil {
			return nil, fmt.Errorf("count applied attempts: %w", err)
		}
		if applied {
			return nil, ErrSkillProfileApplied
		}
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now().UTC()

	categories, err := json.Marshal(p.CategoryScores)
	if err != nil {
		return nil, fmt.Errorf("encode skill scores: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE skill_profiles
		 SET category_scores = $3, strongest_skills = $4, weakest_skills = $5,
		     total_sessions_analyzed = $6, last_analyzed_at = $7, updated_at = $8
		 WHERE user_id = $1 AND org_id = $2`,
		userID, orgID, string(categories), nonNil(p.StrongestSkills), nonNil(p.WeakestSkills),
		p.TotalSessionsAnalyzed, p.LastAnalyzedAt, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("write skill profile: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET skill_profile_applied_at = $2 WHERE id = $1`, sessionID, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("mark session applied: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit skill profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetSkillProfile(ctx context.Context, userID, orgID uuid.UUID) (*models.SkillProfile, error) {
	p, err := scanSkillProfile(s.pool.QueryRow(ctx,
		`SELECT `+skillProfileColumns+` FROM skill_profiles WHERE user_id = $1 AND org_id = $2`, userID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get skill profile: %w", err)
	}
	return p, nil
}

const skillProfileColumns = `user_id, org_id, category_scores, strongest_skills, weakest_skills,
	total_sessions_analyzed, last_analyzed_at, updated_at`

func scanSkillProfile(row pgx.Row) (*models.SkillProfile, error) {
	var categories []byte
	p := newSkillProfile(uuid.Nil, uuid.Nil)
	if err := row.Scan(&p.UserID, &p.OrgID, &categories, &p.StrongestSkills, &p.WeakestSkills,
		&p.TotalSessionsAnalyzed, &p.LastAnalyzedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &p.CategoryScores); err != nil {
			return nil, fmt.Errorf("decode skill scores: %w", err)
		}
	}
	return p, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// marshalNullable encodes v as a JSON string parameter, or nil for a nil map or pointer.
func marshalNullable[T any](v T) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	out := string(b)
	return &out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
