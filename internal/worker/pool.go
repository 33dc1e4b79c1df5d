// Package worker polls the job queue and runs claimed jobs through the
// pipeline orchestrator, bounded by a concurrency limit.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callsight/callsight-api/internal/models"
	"github.com/callsight/callsight-api/internal/pipeline"
	"github.com/callsight/callsight-api/internal/repository"
)

type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int
	// JobTimeout bounds one job's wall clock; a hung dependency trips it
	// and the job goes back for retry.
	JobTimeout time.Duration
	// ReapInterval is how often stuck processing jobs are swept back into
	// the queue. Jobs older than JobTimeout are considered abandoned.
	ReapInterval time.Duration
	// ShutdownGrace is how long Stop waits for in-flight jobs before
	// abandoning them to the reaper.
	ShutdownGrace time.Duration
}

// Snapshot is the pool's liveness signal for health checks.
type Snapshot struct {
	InFlight   int                      `json:"in_flight"`
	QueueDepth map[models.JobStatus]int `json:"queue_depth"`
}

type Pool struct {
	cfg          Config
	jobs         repository.JobRepository
	orchestrator *pipeline.Orchestrator
	logger       zerolog.Logger

	mu       sync.Mutex
	inFlight int
	wg       sync.WaitGroup
}

func NewPool(cfg Config, jobs repository.JobRepository, orchestrator *pipeline.Orchestrator, logger zerolog.Logger) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Pool{
		cfg:          cfg,
		jobs:         jobs,
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Start runs the poll loop until ctx is cancelled, then drains in-flight jobs
// up to the shutdown grace deadline. Jobs still running past the deadline are
// abandoned; the reaper requeues them on the next sweep.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Int("max_concurrent", p.cfg.MaxConcurrent).
		Msg("worker pool started")

	pollTicker := time.NewTicker(p.cfg.PollInterval)
	defer pollTicker.Stop()
	reapTicker := time.NewTicker(p.cfg.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-pollTicker.C:
			p.claimBatch(ctx)
		case <-reapTicker.C:
			p.reap(ctx)
		}
	}
}

// claimBatch claims up to the pool's free capacity worth of jobs. Each claim
// is its own atomic queue operation; a claimed job is immediately handed to a
// goroutine so a slow pipeline never delays further claims.
func (p *Pool) claimBatch(ctx context.Context) {
	for p.freeSlots() > 0 {
		job, ok, err := p.jobs.ClaimNext(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to claim job")
			return
		}
		if !ok {
			return
		}
		p.launch(ctx, job)
	}
}

func (p *Pool) launch(ctx context.Context, job models.Job) {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
	p.wg.Add(1)

	go func() {
		defer func() {
			p.mu.Lock()
			p.inFlight--
			p.mu.Unlock()
			p.wg.Done()
		}()

		// The job runs on its own context so pool shutdown does not cancel
		// it mid-step; the timeout alone bounds it.
		jobCtx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
		defer cancel()

		if err := p.orchestrator.Run(jobCtx, job); err != nil {
			p.logger.Debug().Err(err).Str("job_id", job.ID).Msg("job finished with failure")
		}
	}()
}

func (p *Pool) reap(ctx context.Context) {
	n, err := p.jobs.ReapStale(ctx, p.cfg.JobTimeout)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to reap stale jobs")
		return
	}
	if n > 0 {
		p.logger.Warn().Int("requeued", n).Msg("requeued stale processing jobs")
	}
}

func (p *Pool) drain() {
	p.logger.Info().Msg("worker pool stopping, draining in-flight jobs")
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info().Msg("worker pool drained")
	case <-time.After(p.cfg.ShutdownGrace):
		p.logger.Warn().Int("abandoned", p.InFlight()).Msg("shutdown grace expired, abandoning in-flight jobs to the reaper")
	}
}

func (p *Pool) freeSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.MaxConcurrent - p.inFlight
}

func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Snapshot reports current in-flight count and queue depth by status.
func (p *Pool) Snapshot(ctx context.Context) (Snapshot, error) {
	counts, err := p.jobs.CountByStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{InFlight: p.InFlight(), QueueDepth: counts}, nil
}
