// Package pipeline is the public entry point for captures: it composes the
// orchestrator, variant generation and permission normalization behind
// Capture and RegenerateVariants.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capture"
)

// ErrMasterMissing is returned when variants are requested for a target
// that has never been captured.
var ErrMasterMissing = errors.New("master screenshot missing")

// Options are the scheduler-facing knobs of one capture.
type Options struct {
	// Force re-renders even when a master already exists.
	Force    bool
	FullPage bool
	Width    int
	Height   int
}

// Result is a successful pipeline run.
type Result struct {
	PublicURL string
	Outcome   capture.Outcome
	// Skipped is set when an existing master was reused.
	Skipped bool
}

// Pipeline is the capture facade.
type Pipeline struct {
	orch   *capture.Orchestrator
	layout artifact.Layout
	logger *zap.Logger
}

// New wraps an orchestrator.
func New(orch *capture.Orchestrator, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{orch: orch, layout: orch.Layout(), logger: logger}
}

// PublicURL is the stable URL of a target's master.
func (p *Pipeline) PublicURL(slug string) string {
	return p.layout.PublicURL(slug)
}

// Capture produces the master for target and returns its public URL.
// Without Force an existing master is kept and only stale variants are
// refreshed.
func (p *Pipeline) Capture(ctx context.Context, target capture.Target, opts Options) (Result, error) {
	if err := artifact.ValidateSlug(target.Slug); err != nil {
		return Result{}, fmt.Errorf("%w: %w", capture.ErrInvalidRequest, err)
	}

	if !opts.Force {
		outcome, reused, err := p.reuse(ctx, target)
		if err != nil {
			return Result{}, err
		}
		if reused {
			p.logger.Info("master exists; skipped capture",
				zap.String("slug", target.Slug),
				zap.Int("variants", len(outcome.Variants)),
			)
			return Result{PublicURL: p.PublicURL(target.Slug), Outcome: outcome, Skipped: true}, nil
		}
	}

	outcome, err := p.orch.Capture(ctx, target, capture.Options{
		Width:    opts.Width,
		Height:   opts.Height,
		FullPage: opts.FullPage,
	})
	if err != nil {
		return Result{}, err
	}
	for _, diag := range outcome.Diagnostics {
		p.logger.Warn("capture diagnostic", zap.String("slug", target.Slug), zap.Error(diag))
	}
	return Result{PublicURL: p.PublicURL(target.Slug), Outcome: outcome}, nil
}

// reuse refreshes variants of an existing master under the slug lock.
func (p *Pipeline) reuse(ctx context.Context, target capture.Target) (capture.Outcome, bool, error) {
	unlock, err := p.orch.LockSlug(ctx, target.Slug)
	if err != nil {
		return capture.Outcome{}, false, err
	}
	defer unlock()

	if _, err := os.Stat(p.layout.MasterPath(target.Slug)); err != nil {
		return capture.Outcome{}, false, nil
	}
	outcome, err := p.orch.RefreshVariants(ctx, target)
	if err != nil {
		// The master vanished or is unreadable; capture afresh.
		p.logger.Warn("existing master unusable", zap.String("slug", target.Slug), zap.Error(err))
		return capture.Outcome{}, false, nil
	}
	return outcome, true, nil
}

// RegenerateVariants rebuilds stale variants from the existing master
// without launching a browser.
func (p *Pipeline) RegenerateVariants(ctx context.Context, target capture.Target) ([]artifact.Artifact, error) {
	if err := artifact.ValidateSlug(target.Slug); err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrInvalidRequest, err)
	}
	unlock, err := p.orch.LockSlug(ctx, target.Slug)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := os.Stat(p.layout.MasterPath(target.Slug)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMasterMissing, target.Slug)
		}
		return nil, fmt.Errorf("stat master: %w", err)
	}
	outcome, err := p.orch.RefreshVariants(ctx, target)
	if err != nil {
		return nil, err
	}
	for _, diag := range outcome.Diagnostics {
		p.logger.Warn("variant diagnostic", zap.String("slug", target.Slug), zap.Error(diag))
	}
	return outcome.Variants, nil
}
