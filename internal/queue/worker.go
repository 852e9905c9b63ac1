package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// Claimer leases the next pending job. store.Store satisfies it.
type Claimer interface {
	ClaimNextJob(ctx context.Context, workerID string, lease time.Duration) (*models.AnalysisJob, error)
}

// JobProcessor runs one claimed job. *Processor satisfies it.
type JobProcessor interface {
	Process(ctx context.Context, job *models.AnalysisJob, workerID string) error
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	// WorkerCount is the number of drain loops. Zero or negative means 1.
	WorkerCount int
	// WorkerID prefixes each loop's lease owner name.
	WorkerID      string
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

// Pool runs a fixed number of drain loops. Each loop claims and processes jobs until the
// queue is empty, then sleeps until Wake, the next poll tick or shutdown.
type Pool struct {
	claimer      Claimer
	processor    JobProcessor
	cfg          PoolConfig
	logger       *slog.Logger
	wakes        []chan struct{}
	wg           sync.WaitGroup
	errorHandler func(job *models.AnalysisJob, err error)
}

func NewPool(claimer Claimer, processor JobProcessor, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.WorkerCount, "default_count", 1)
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}

	wakes := make([]chan struct{}, cfg.WorkerCount)
	for i := range wakes {
		wakes[i] = make(chan struct{}, 1)
	}
	return &Pool{
		claimer:   claimer,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		wakes:     wakes,
	}
}

// SetErrorHandler registers a callback for failed jobs. Call before Start.
func (p *Pool) SetErrorHandler(handler func(job *models.AnalysisJob, err error)) {
	p.errorHandler = handler
}

// Start launches the loops. They stop when ctx is cancelled; Wait blocks until they have.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting analysis worker pool",
		"worker_count", p.cfg.WorkerCount, "worker_id", p.cfg.WorkerID)
	for i := range p.wakes {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Wake signals every loop. It never blocks; a loop that already has a wake pending ignores it.
func (p *Pool) Wake() {
	for _, ch := range p.wakes {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("analysis worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, i int) {
	defer p.wg.Done()
	workerID := fmt.Sprintf("%s-%d", p.cfg.WorkerID, i)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, workerID)
		select {
		case <-ctx.Done():
			return
		case <-p.wakes[i]:
		case <-ticker.C:
		}
	}
}

func (p *Pool) drain(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, err := p.claimer.ClaimNextJob(ctx, workerID, p.cfg.LeaseDuration)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "claiming analysis job", "worker_id", workerID, "error", err)
			}
			return
		}
		if job == nil {
			return
		}

		if err := p.processor.Process(ctx, job, workerID); err != nil {
			p.logger.ErrorContext(ctx, "analysis job failed",
				"job_id", job.ID, "session_id", job.SessionID, "worker_id", workerID,
				"attempts", job.Attempts, "error", err)
			if p.errorHandler != nil {
				p.errorHandler(job, err)
			}
		}
	}
}
