package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements the Store interface on an embedded SQLite database through gorm.
// It is used for single-node deployments and for tests. The pool is capped at one
// connection, so every statement, including the claim, is serialized by SQLite.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and migrates the schema.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := db.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Organization{},
		&models.Scenario{},
		&models.APIKey{},
		&models.Session{},
		&models.AnalysisJob{},
		&models.ResultCacheEntry{},
		&models.SkillProfile{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// --- API Keys ---

func (s *SQLiteStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	if err := s.db.WithContext(ctx).
		Where("key_prefix = ? AND deleted_at IS NULL", prefix).
		Find(&keys).Error; err != nil {
		return nil, translate(err, "get api key by prefix")
	}
	return keys, nil
}

func (s *SQLiteStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Exec(`UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?`, now, now, id).Error; err != nil {
		return translate(err, "update api key last used")
	}
	return nil
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return translate(err, "create api key")
	}
	return nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, orgID uuid.UUID) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND deleted_at IS NULL", orgID).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, translate(err, "list api keys")
	}
	return keys, nil
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, orgID uuid.UUID) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE api_keys SET deleted_at = ?, updated_at = ? WHERE id = ? AND org_id = ? AND deleted_at IS NULL`,
		now, now, id, orgID)
	if res.Error != nil {
		return translate(res.Error, "revoke api key")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Organizations & Scenarios ---

func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		return translate(err, "create organization")
	}
	return nil
}

func (s *SQLiteStore) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	if err := s.db.WithContext(ctx).Create(sc).Error; err != nil {
		return translate(err, "create scenario")
	}
	return nil
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return translate(err, "create session")
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id uuid.UUID, orgID uuid.UUID) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", id, orgID).
		First(&sess).Error; err != nil {
		return nil, translate(err, "get session")
	}
	return &sess, nil
}

func (s *SQLiteStore) GetSessionContext(ctx context.Context, sessionID uuid.UUID) (*models.SessionContext, error) {
	var sc models.SessionContext
	db := s.db.WithContext(ctx)

	if err := db.Where("id = ?", sessionID).First(&sc.Session).Error; err != nil {
		return nil, translate(err, "get session context")
	}
	if err := db.Where("id = ?", sc.Session.OrgID).First(&sc.Organization).Error; err != nil {
		return nil, translate(err, "get session organization")
	}
	if sc.Session.ScenarioID != nil {
		var scenario models.Scenario
		err := db.Where("id = ?", *sc.Session.ScenarioID).First(&scenario).Error
		switch {
		case err == nil:
			sc.Scenario = &scenario
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, translate(err, "get session scenario")
		}
	}
	return &sc, nil
}

func (s *SQLiteStore) UpdateSessionAnalysis(ctx context.Context, sessionID uuid.UUID, status string, opts ...SessionUpdateOption) error {
	params := applySessionOptions(opts)

	query := `UPDATE sessions SET analysis_status = ?`
	args := []any{status}

	if params.StartedAt != nil {
		query += ", analysis_started_at = ?"
		args = append(args, *params.StartedAt)
	}
	if params.CompletedAt != nil {
		query += ", analysis_completed_at = ?"
		args = append(args, *params.CompletedAt)
	}
	if params.ErrorMessage != nil {
		query += ", analysis_error = ?"
		args = append(args, *params.ErrorMessage)
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
		strengths, err := json.Marshal(nonNil(params.Scores.Strengths))
		if err != nil {
			return fmt.Errorf("encode strengths: %w", err)
		}
		improvements, err := json.Marshal(nonNil(params.Scores.Improvements))
		if err != nil {
			return fmt.Errorf("encode improvements: %w", err)
		}
		query += ", overall_score = ?, category_scores = ?, strengths = ?, improvements = ?"
		args = append(args, params.Scores.Overall, string(categories), string(strengths), string(improvements))
	}

	query += " WHERE id = ?"
	args = append(args, sessionID)
	if params.OrgID != nil {
		query += " AND org_id = ?"
		args = append(args, *params.OrgID)
	}
	if params.Lease != nil {
		query += ` AND EXISTS (
		  SELECT 1 FROM analysis_jobs
		  WHERE id = ? AND session_id = sessions.id AND locked_by = ? AND status = ?)`
		args = append(args, params.Lease.JobID, params.Lease.WorkerID, models.JobStatusProcessing)
	}

	res := s.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return translate(res.Error, "update session analysis")
	}
	if res.RowsAffected == 0 {
		if params.Lease != nil {
			return ErrJobNotOwned
		}
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) HasEarlierAttempt(ctx context.Context, userID, scenarioID, sessionID uuid.UUID) (bool, error) {
	var hits []string
	if err := s.db.WithContext(ctx).Raw(
		`SELECT o.id FROM sessions o
		 JOIN sessions cur ON cur.id = ?
		 WHERE o.user_id = ? AND o.scenario_id = ? AND o.id <> cur.id AND o.analysis_status = ?
		   AND (cur.analysis_completed_at IS NULL OR o.analysis_completed_at IS NULL
		        OR o.analysis_completed_at < cur.analysis_completed_at
		        OR (o.analysis_completed_at = cur.analysis_completed_at AND o.id < cur.id))
		 LIMIT 1`,
		sessionID, userID, scenarioID, models.JobStatusCompleted).
		Scan(&hits).Error; err != nil {
		return false, translate(err, "find earlier attempt")
	}
	return len(hits) > 0, nil
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return translate(err, "create job")
	}
	return nil
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context, workerID string, lease time.Duration) (*models.AnalysisJob, error) {
	now := time.Now().UTC()
	rows, err := s.db.WithContext(ctx).Raw(
		`UPDATE analysis_jobs
		 SET status = ?, locked_by = ?, lock_expires_at = ?, started_at = ?, attempts = attempts + 1
		 WHERE id = (
		   SELECT id FROM analysis_jobs
		   WHERE status = ?
		   ORDER BY priority DESC, queued_at ASC
		   LIMIT 1
		 )
		 RETURNING id`,
		models.JobStatusProcessing, workerID, now.Add(lease), now, models.JobStatusPending).Rows()
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	var claimed string
	found := rows.Next()
	if found {
		if err := rows.Scan(&claimed); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if !found {
		return nil, nil
	}

	id, err := uuid.Parse(claimed)
	if err != nil {
		return nil, fmt.Errorf("parse claimed job id: %w", err)
	}
	return s.GetJob(ctx, id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE analysis_jobs SET status = ?, completed_at = ?, lock_expires_at = NULL
		 WHERE id = ? AND locked_by = ? AND status = ?`,
		models.JobStatusCompleted, time.Now().UTC(), jobID, workerID, models.JobStatusProcessing)
	if res.Error != nil {
		return translate(res.Error, "complete job")
	}
	if res.RowsAffected == 0 {
		return ErrJobNotOwned
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE analysis_jobs SET status = ?, last_error = ?, completed_at = ?, lock_expires_at = NULL
		 WHERE id = ? AND locked_by = ? AND status = ?`,
		models.JobStatusFailed, errMsg, time.Now().UTC(), jobID, workerID, models.JobStatusProcessing)
	if res.Error != nil {
		return translate(res.Error, "fail job")
	}
	if res.RowsAffected == 0 {
		return ErrJobNotOwned
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, translate(err, "get job")
	}
	return &job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.AnalysisJob, error) {
	q := s.db.WithContext(ctx).Model(&models.AnalysisJob{})
	if filter.OrgID != nil {
		q = q.Where("org_id = ?", *filter.OrgID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AttemptsBelow > 0 {
		q = q.Where("attempts < ?", filter.AttemptsBelow)
	}
	if filter.LockExpiredBefore != nil {
		q = q.Where("lock_expires_at < ?", filter.LockExpiredBefore.UTC())
	}

	var jobs []*models.AnalysisJob
	if err := q.Order("queued_at ASC").Limit(filter.limit()).Find(&jobs).Error; err != nil {
		return nil, translate(err, "list jobs")
	}
	return jobs, nil
}

func (s *SQLiteStore) PendingQueue(ctx context.Context) ([]models.QueueEntry, error) {
	var jobs []models.AnalysisJob
	if err := s.db.WithContext(ctx).
		Select("id", "session_id", "priority", "queued_at").
		Where("status = ?", models.JobStatusPending).
		Order("priority DESC, queued_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, translate(err, "pending queue")
	}

	entries := make([]models.QueueEntry, 0, len(jobs))
	for _, j := range jobs {
		entries = append(entries, models.QueueEntry{
			JobID:     j.ID,
			SessionID: j.SessionID,
			Priority:  j.Priority,
			QueuedAt:  j.QueuedAt,
		})
	}
	return entries, nil
}

func (s *SQLiteStore) ResetFailedJob(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE analysis_jobs
		 SET status = ?, last_error = NULL, locked_by = NULL, lock_expires_at = NULL,
		     started_at = NULL, completed_at = NULL
		 WHERE id = ? AND status = ?`,
		models.JobStatusPending, id, models.JobStatusFailed)
	if res.Error != nil {
		return false, translate(res.Error, "reset failed job")
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLiteStore) ReleaseExpiredLease(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE analysis_jobs
		 SET status = ?, locked_by = NULL, lock_expires_at = NULL, started_at = NULL
		 WHERE id = ? AND status = ? AND lock_expires_at < ?`,
		models.JobStatusPending, id, models.JobStatusProcessing, now.UTC())
	if res.Error != nil {
		return false, translate(res.Error, "release expired lease")
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLiteStore) FailExpiredLease(ctx context.Context, id uuid.UUID, now time.Time, errMsg string) (bool, error) {
	now = now.UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE analysis_jobs
		 SET status = ?, last_error = ?, completed_at = ?, locked_by = NULL, lock_expires_at = NULL
		 WHERE id = ? AND status = ? AND lock_expires_at < ?`,
		models.JobStatusFailed, errMsg, now, id, models.JobStatusProcessing, now)
	if res.Error != nil {
		return false, translate(res.Error, "fail expired lease")
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLiteStore) DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", models.JobStatusCompleted, cutoff.UTC()).
		Delete(&models.AnalysisJob{})
	if res.Error != nil {
		return 0, translate(res.Error, "delete completed jobs")
	}
	return res.RowsAffected, nil
}

// --- Analysis Results ---

func (s *SQLiteStore) UpsertResult(ctx context.Context, entry *models.ResultCacheEntry) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(entry).Error; err != nil {
		return translate(err, "upsert analysis result")
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, sessionID uuid.UUID) (*models.ResultCacheEntry, error) {
	var r models.ResultCacheEntry
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&r).Error; err != nil {
		return nil, translate(err, "get analysis result")
	}
	return &r, nil
}

// --- Skill Profiles ---

func (s *SQLiteStore) UpdateSkillProfile(ctx context.Context, userID, orgID, sessionID uuid.UUID, fn func(*models.SkillProfile) error) (*models.SkillProfile, error) {
	var out *models.SkillProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		if err := tx.Select("id", "user_id", "scenario_id", "skill_profile_applied_at").
			Where("id = ? AND user_id = ? AND org_id = ?", sessionID, userID, orgID).
			First(&sess).Error; err != nil {
			return translate(err, "load session")
		}
		if sess.SkillProfileAppliedAt != nil {
			return ErrSkillProfileApplied
		}
		if sess.ScenarioID != nil {
			var applied int64
			if err := tx.Model(&models.Session{}).
				Where("user_id = ? AND scenario_id = ? AND id <> ? AND skill_profile_applied_at IS NOT NULL",
					userID, *sess.ScenarioID, sessionID).
				Count(&applied).Error; err != nil {
				return fmt.Errorf("count applied attempts: %w", err)
			}
			if applied > 0 {
				return ErrSkillProfileApplied
			}
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(newSkillProfile(userID, orgID)).Error; err != nil {
			return fmt.Errorf("init skill profile: %w", err)
		}

		var p models.SkillProfile
		if err := tx.Where("user_id = ? AND org_id = ?", userID, orgID).First(&p).Error; err != nil {
			return fmt.Errorf("load skill profile: %w", err)
		}
		if p.CategoryScores == nil {
			p.CategoryScores = map[string]float64{}
		}

		if err := fn(&p); err != nil {
			return err
		}

		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("write skill profile: %w", err)
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).
			Update("skill_profile_applied_at", time.Now().UTC()).Error; err != nil {
			return fmt.Errorf("mark session applied: %w", err)
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetSkillProfile(ctx context.Context, userID, orgID uuid.UUID) (*models.SkillProfile, error) {
	var p models.SkillProfile
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		First(&p).Error; err != nil {
		return nil, translate(err, "get skill profile")
	}
	return &p, nil
}
