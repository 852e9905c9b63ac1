// Package scheduler runs the queue's periodic maintenance passes on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/internal/metrics"
	"github.com/robfig/cron/v3"
)

const (
	TaskRetry   = "retry"
	TaskCleanup = "cleanup"
	TaskReap    = "reap"
)

// Runner is the set of maintenance operations. *queue.Service satisfies it.
type Runner interface {
	RetryFailedJobs(ctx context.Context, maxRetries int) (int, error)
	CleanupOldJobs(ctx context.Context, daysOld int) (int64, error)
	ReapExpiredLeases(ctx context.Context, maxAttempts int) (int, int, error)
}

// Maintenance schedules retry, cleanup and reap passes. A pass that is still running when
// its next tick fires is skipped rather than overlapped.
type Maintenance struct {
	cron    *cron.Cron
	runner  Runner
	cfg     config.MaintenanceConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	baseCtx context.Context
}

// New parses the schedules in cfg. Specs use the standard five cron fields or descriptors
// such as "@every 30s".
func New(runner Runner, cfg config.MaintenanceConfig, m *metrics.Metrics, logger *slog.Logger) (*Maintenance, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mt := &Maintenance{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner:  runner,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		baseCtx: context.Background(),
	}

	for _, s := range []struct {
		task string
		spec string
	}{
		{TaskRetry, cfg.RetrySchedule},
		{TaskCleanup, cfg.CleanupSchedule},
		{TaskReap, cfg.ReapSchedule},
	} {
		task := s.task
		if _, err := mt.cron.AddFunc(s.spec, func() { _ = mt.Run(mt.baseCtx, task) }); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", task, s.spec, err)
		}
	}
	return mt, nil
}

// Start begins firing schedules. Passes run with ctx.
func (m *Maintenance) Start(ctx context.Context) {
	m.baseCtx = ctx
	m.cron.Start()
	m.logger.Info("maintenance scheduler started",
		"retry", m.cfg.RetrySchedule, "cleanup", m.cfg.CleanupSchedule, "reap", m.cfg.ReapSchedule)
}

// Stop prevents new passes and waits for running ones to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// Run executes one pass immediately.
func (m *Maintenance) Run(ctx context.Context, task string) error {
	var err error
	switch task {
	case TaskRetry:
		var n int
		n, err = m.runner.RetryFailedJobs(ctx, m.cfg.MaxRetries)
		if err == nil && n > 0 {
			m.logger.InfoContext(ctx, "maintenance retry pass", "reset", n)
		}
	case TaskCleanup:
		var n int64
		n, err = m.runner.CleanupOldJobs(ctx, m.cfg.RetentionDays)
		if err == nil && n > 0 {
			m.logger.InfoContext(ctx, "maintenance cleanup pass", "deleted", n)
		}
	case TaskReap:
		var requeued, failed int
		requeued, failed, err = m.runner.ReapExpiredLeases(ctx, m.cfg.ReapMaxAttempts)
		if err == nil && requeued+failed > 0 {
			m.logger.InfoContext(ctx, "maintenance reap pass", "requeued", requeued, "failed", failed)
		}
	default:
		return fmt.Errorf("unknown maintenance task %q", task)
	}

	m.metrics.MaintenanceRun(task, err)
	if err != nil {
		m.logger.ErrorContext(ctx, "maintenance pass failed", "task", task, "error", err)
	}
	return err
}
