package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/metrics"
	"github.com/JakeFAU/demoshot/internal/perms"
)

// VariantGenerator derives responsive sizes from a master image. It may
// return partial results together with a non-nil error.
type VariantGenerator interface {
	Generate(ctx context.Context, masterPath, slug string) ([]artifact.Artifact, error)
}

// PermissionNormalizer fixes ownership and modes of freshly written artifacts
// and of the directory that holds them.
type PermissionNormalizer interface {
	NormalizeArtifacts(ctx context.Context, dir string, paths []string) perms.Report
}

// Hook runs after a successful capture and its post-processing. Hook errors
// are recorded as diagnostics.
type Hook struct {
	Name string
	Run  func(ctx context.Context, target Target, outcome Outcome) error
}

// Outcome describes a successful capture.
type Outcome struct {
	Master       artifact.Artifact
	Strategy     string
	WaitPolicy   WaitPolicy
	Variants     []artifact.Artifact
	Permissions  perms.Report
	PrimaryError error
	Diagnostics  []error
}

// OrchestratorConfig holds the ranked strategies and resource limits.
type OrchestratorConfig struct {
	Primary     StrategyConfig
	Fallback    StrategyConfig
	Problematic StrategyConfig
	MaxParallel int
	// HostQPS limits capture starts per host; zero disables the budget.
	HostQPS float64
}

// DefaultOrchestratorConfig returns the canonical strategies.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Primary:     PrimaryStrategy(),
		Fallback:    FallbackStrategy(),
		Problematic: ProblematicStrategy(),
		MaxParallel: DefaultMaxParallel,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithVariantGenerator enables variant derivation after each capture.
func WithVariantGenerator(g VariantGenerator) Option {
	return func(o *Orchestrator) { o.variants = g }
}

// WithPermissionNormalizer enables ownership normalization after each write.
func WithPermissionNormalizer(n PermissionNormalizer) Option {
	return func(o *Orchestrator) { o.perms = n }
}

// WithHooks appends post-capture hooks.
func WithHooks(hooks ...Hook) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, hooks...) }
}

// WithGate shares an admission gate across orchestrators.
func WithGate(g *Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// Orchestrator runs the primary-then-fallback capture state machine.
type Orchestrator struct {
	browser      Browser
	layout       artifact.Layout
	cfg          OrchestratorConfig
	gate         *Gate
	locks        *KeyedMutex
	variants     VariantGenerator
	perms        PermissionNormalizer
	hooks        []Hook
	hostLimiters sync.Map
	logger       *zap.Logger
}

// NewOrchestrator wires an orchestrator around a browser driver.
func NewOrchestrator(
	browser Browser,
	layout artifact.Layout,
	cfg OrchestratorConfig,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		browser: browser,
		layout:  layout,
		cfg:     cfg,
		locks:   NewKeyedMutex(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.gate == nil {
		o.gate = NewGate(cfg.MaxParallel)
	}
	return o
}

// Layout exposes the artifact layout used for output paths.
func (o *Orchestrator) Layout() artifact.Layout {
	return o.layout
}

// LockSlug takes the per-slug writer lock. Callers touching a slug's
// artifacts outside Capture must hold it.
func (o *Orchestrator) LockSlug(ctx context.Context, slug string) (func(), error) {
	return o.locks.Lock(ctx, slug)
}

// Capture renders target and publishes its master artifact. The primary (or
// problematic) strategy runs first; any capture error triggers exactly one
// fallback attempt whose error, if any, is terminal.
func (o *Orchestrator) Capture(ctx context.Context, target Target, opts Options) (Outcome, error) {
	if err := artifact.ValidateSlug(target.Slug); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req := NewRequest(target, opts)
	if err := req.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	log := o.logger.With(zap.String("slug", target.Slug), zap.String("url", target.URL))

	unlock, err := o.locks.Lock(ctx, target.Slug)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	if err := o.waitHostBudget(ctx, target.Hostname()); err != nil {
		return Outcome{}, fmt.Errorf("capture rate limit: %w", err)
	}

	payload := BuildSuppressionPayload(target.Hostname())
	output := o.layout.MasterPath(target.Slug)

	first := o.cfg.Primary
	if target.KnownProblematic {
		first = o.cfg.Problematic
	}

	outcome := Outcome{Strategy: first.Name, WaitPolicy: first.WaitPolicy}
	master, err := o.attempt(ctx, req, first, payload, output)
	if err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			return Outcome{}, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return Outcome{}, fmt.Errorf("capture canceled after %s attempt: %w", first.Name, cerr)
		}
		log.Warn("primary capture failed; trying fallback",
			zap.String("strategy", first.Name),
			zap.String("kind", string(ce.Kind)),
			zap.Error(err),
		)
		outcome.PrimaryError = err
		outcome.Strategy = o.cfg.Fallback.Name
		outcome.WaitPolicy = o.cfg.Fallback.WaitPolicy

		master, err = o.attempt(ctx, req, o.cfg.Fallback, payload, output)
		if err != nil {
			log.Error("fallback capture failed",
				zap.String("strategy", o.cfg.Fallback.Name),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err),
			)
			return Outcome{}, err
		}
	}
	outcome.Master = master
	log.Info("capture succeeded",
		zap.String("strategy", outcome.Strategy),
		zap.String("path", master.Path),
		zap.Int("width", master.Width),
		zap.Int("height", master.Height),
	)

	o.runSteps(ctx, target, &outcome, log, true)
	return outcome, nil
}

func (o *Orchestrator) attempt(
	ctx context.Context,
	req Request,
	cfg StrategyConfig,
	payload Payload,
	output string,
) (artifact.Artifact, error) {
	release, err := o.gate.Acquire(ctx)
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer release()

	start := time.Now()
	art, err := RunAttempt(ctx, o.browser, Attempt{
		Request:    req,
		Config:     cfg,
		Payload:    payload,
		OutputPath: output,
	})
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "invalid"
		}
	}
	metrics.ObserveAttempt(cfg.Name, outcome, time.Since(start))
	return art, err
}

// runSteps runs variants, permissions and optionally hooks. Nothing here can
// turn a successful capture into a failure.
func (o *Orchestrator) runSteps(ctx context.Context, target Target, outcome *Outcome, log *zap.Logger, withHooks bool) {
	paths := []string{outcome.Master.Path}

	if o.variants != nil {
		variants, err := o.variants.Generate(ctx, outcome.Master.Path, target.Slug)
		outcome.Variants = variants
		for _, v := range variants {
			paths = append(paths, v.Path)
		}
		if err != nil {
			log.Warn("variant generation incomplete", zap.Error(err))
			outcome.Diagnostics = append(outcome.Diagnostics, NewError(KindEncode, "", err))
		}
	}

	if o.perms != nil {
		report := o.perms.NormalizeArtifacts(ctx, o.layout.ScreenshotsDir(), paths)
		outcome.Permissions = report
		if report.Errors > 0 {
			err := fmt.Errorf("%d of %d artifact paths not normalized", report.Errors, len(paths))
			log.Warn("permission normalization incomplete", zap.Error(err))
			outcome.Diagnostics = append(outcome.Diagnostics, NewError(KindPermissionNormalization, "", err))
		}
	}

	if !withHooks {
		return
	}
	for _, hook := range o.hooks {
		if hook.Run == nil {
			continue
		}
		if err := hook.Run(ctx, target, *outcome); err != nil {
			log.Warn("post-capture hook failed", zap.String("hook", hook.Name), zap.Error(err))
			outcome.Diagnostics = append(outcome.Diagnostics, fmt.Errorf("hook %s: %w", hook.Name, err))
		}
	}
}

// RefreshVariants regenerates stale variants of an existing master and
// normalizes permissions without re-rendering. Hooks do not run. The caller
// must hold the slug lock.
func (o *Orchestrator) RefreshVariants(ctx context.Context, target Target) (Outcome, error) {
	master, err := artifact.Inspect(o.layout.MasterPath(target.Slug), artifact.FormatPNG)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{Master: master}
	o.runSteps(ctx, target, &outcome, o.logger.With(zap.String("slug", target.Slug)), false)
	return outcome, nil
}

func (o *Orchestrator) waitHostBudget(ctx context.Context, host string) error {
	if o.cfg.HostQPS <= 0 || host == "" {
		return nil
	}
	val, _ := o.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(o.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}
