package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/pipeline"
)

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler shutting down")

// Scheduler runs batches in the background and tracks them as jobs.
type Scheduler struct {
	runner *Runner
	jobs   *JobStore
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner *Runner, jobs *JobStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{runner: runner, jobs: jobs, logger: logger, ctx: ctx, cancel: cancel}
}

// Submit records a queued job and starts it in the background.
func (s *Scheduler) Submit(ctx context.Context, targets []capture.Target, opts pipeline.Options) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, ErrShuttingDown
	}

	id, err := NewJobID()
	if err != nil {
		return Job{}, err
	}
	slugs := make([]string, 0, len(targets))
	for _, t := range targets {
		slugs = append(slugs, t.Slug)
	}
	job := Job{
		ID:      id,
		Status:  JobStatusQueued,
		Slugs:   slugs,
		Force:   opts.Force,
		Created: s.runner.now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(id, targets, opts)
	}()
	return job, nil
}

func (s *Scheduler) run(id string, targets []capture.Target, opts pipeline.Options) {
	log := s.logger.With(zap.String("job_id", id))
	if err := s.jobs.UpdateJob(s.ctx, id, JobStatusRunning, nil, s.runner.now()); err != nil {
		log.Error("update job status failed", zap.Error(err))
		return
	}
	summary := s.runner.Run(s.ctx, targets, opts)
	status := finalStatus(summary)
	// The scheduler context may already be canceled here.
	if err := s.jobs.UpdateJob(context.Background(), id, status, summary.Results, s.runner.now()); err != nil {
		log.Error("update job status failed", zap.Error(err))
		return
	}
	log.Info("job finished", zap.String("status", string(status)))
}

func finalStatus(s Summary) JobStatus {
	total := len(s.Results)
	switch {
	case s.Failed == 0 && s.Canceled == 0:
		return JobStatusSucceeded
	case s.Canceled > 0 && !s.Stopped && s.Failed == 0:
		return JobStatusCanceled
	case s.Failed+s.Canceled == total:
		return JobStatusFailed
	default:
		return JobStatusPartial
	}
}

// Get returns a job snapshot.
func (s *Scheduler) Get(ctx context.Context, id string) (Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// Shutdown cancels running jobs and waits for them to record their state.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// Wait blocks until every submitted job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
