// Package batch schedules captures for many catalog targets over a bounded
// worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
	"github.com/JakeFAU/demoshot/internal/metrics"
	"github.com/JakeFAU/demoshot/internal/pipeline"
)

// Status is the outcome of one target in a batch.
type Status string

// Target outcomes.
const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// TargetResult is the per-target record of a batch run.
type TargetResult struct {
	Slug      string `json:"slug"`
	Status    Status `json:"status"`
	PublicURL string `json:"public_url,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Warnings  int    `json:"warnings,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	Results   []TargetResult
	Succeeded int
	Skipped   int
	Failed    int
	Canceled  int
	// Stopped is set when a failure ended the run early.
	Stopped bool
}

// Err joins the per-target failures, or returns nil.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Slug, r.Error))
		}
	}
	return errors.Join(errs...)
}

// Capturer performs one capture.
type Capturer interface {
	Capture(ctx context.Context, target capture.Target, opts pipeline.Options) (pipeline.Result, error)
}

// Config controls Runner behavior.
type Config struct {
	Workers            int
	QueueDepth         int
	StopOnFirstFailure bool
}

// Runner fans targets out to a pool of workers.
type Runner struct {
	capturer Capturer
	catalog  catalog.Store
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner constructs a Runner. store may be nil when results need not be
// recorded.
func NewRunner(capturer Capturer, store catalog.Store, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		capturer: capturer,
		catalog:  store,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run captures every target and blocks until all have been processed or the
// run is stopped. Results keep the order of targets.
func (r *Runner) Run(ctx context.Context, targets []capture.Target, opts pipeline.Options) Summary {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := newQueue(r.cfg.QueueDepth)
	results := make([]TargetResult, len(targets))
	var (
		stopOnce sync.Once
		stopped  bool
		wg       sync.WaitGroup
	)

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, err := q.dequeue(runCtx)
				if err != nil {
					return
				}
				if runCtx.Err() != nil {
					return
				}
				res := r.process(runCtx, it.target, opts)
				results[it.index] = res
				if res.Status == StatusFailed && r.cfg.StopOnFirstFailure {
					stopOnce.Do(func() {
						stopped = true
						r.logger.Warn("stopping batch after failure", zap.String("slug", res.Slug))
						cancel()
					})
				}
			}
		}()
	}

	for i, target := range targets {
		if err := q.enqueue(runCtx, item{index: i, target: target}); err != nil {
			break
		}
	}
	q.close()
	wg.Wait()

	summary := Summary{Results: results, Stopped: stopped}
	for i := range results {
		if results[i].Status == "" {
			results[i] = TargetResult{Slug: targets[i].Slug, Status: StatusCanceled}
		}
		switch results[i].Status {
		case StatusSucceeded:
			summary.Succeeded++
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		case StatusCanceled:
			summary.Canceled++
		}
	}
	r.logger.Info("batch finished",
		zap.Int("targets", len(targets)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("canceled", summary.Canceled),
	)
	return summary
}

func (r *Runner) process(ctx context.Context, target capture.Target, opts pipeline.Options) TargetResult {
	log := r.logger.With(zap.String("slug", target.Slug), zap.String("url", target.URL))
	result := TargetResult{Slug: target.Slug}

	res, err := r.capturer.Capture(ctx, target, opts)
	if err != nil && ctx.Err() != nil && capture.KindOf(err) == "" {
		result.Status = StatusCanceled
		result.Error = err.Error()
		log.Info("capture canceled", zap.Error(err))
		metrics.ObserveBatchTarget(target.URL, string(result.Status))
		return result
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Kind = string(capture.KindOf(err))
		log.Error("capture failed", zap.String("kind", result.Kind), zap.Error(err))
		if r.catalog != nil {
			if rerr := r.catalog.RecordFailure(ctx, target.Slug, result.Error, r.now()); rerr != nil {
				log.Warn("record failure", zap.Error(rerr))
			}
		}
		metrics.ObserveBatchTarget(target.URL, string(result.Status))
		return result
	}

	result.Status = StatusSucceeded
	if res.Skipped {
		result.Status = StatusSkipped
	}
	result.PublicURL = res.PublicURL
	result.Strategy = res.Outcome.Strategy
	result.Warnings = len(res.Outcome.Diagnostics)
	if r.catalog != nil && !res.Skipped {
		if rerr := r.catalog.RecordScreenshot(ctx, target.Slug, res.PublicURL, r.now()); rerr != nil {
			log.Warn("record screenshot", zap.Error(rerr))
		}
	}
	log.Info("capture complete",
		zap.String("status", string(result.Status)),
		zap.String("strategy", result.Strategy),
		zap.Int("warnings", result.Warnings),
	)
	metrics.ObserveBatchTarget(target.URL, string(result.Status))
	return result
}
