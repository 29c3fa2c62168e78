// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/batch"
	"github.com/JakeFAU/demoshot/internal/browser"
	"github.com/JakeFAU/demoshot/internal/capabilities"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog"
	catalogfile "github.com/JakeFAU/demoshot/internal/catalog/file"
	catalogmemory "github.com/JakeFAU/demoshot/internal/catalog/memory"
	catalogpostgres "github.com/JakeFAU/demoshot/internal/catalog/postgres"
	"github.com/JakeFAU/demoshot/internal/config"
	"github.com/JakeFAU/demoshot/internal/perms"
	"github.com/JakeFAU/demoshot/internal/pipeline"
	"github.com/JakeFAU/demoshot/internal/publisher"
	"github.com/JakeFAU/demoshot/internal/publisher/pubsub"
	"github.com/JakeFAU/demoshot/internal/storage"
	"github.com/JakeFAU/demoshot/internal/storage/gcs"
	"github.com/JakeFAU/demoshot/internal/variants"
)

// App holds the shared, long-lived services for one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	caps     capabilities.Capabilities
	catalog  catalog.Store
	pipeline *pipeline.Pipeline
	runner   *batch.Runner
	closers  []func() error
}

// Option overrides a service that New would otherwise build from config.
type Option func(*overrides)

type overrides struct {
	browser      capture.Browser
	caps         *capabilities.Capabilities
	catalog      catalog.Store
	blobStore    storage.BlobStore
	publisher    publisher.Publisher
	variantOpts  []variants.Option
	normalizerOp []perms.Option
}

// WithBrowser replaces the chromedp driver.
func WithBrowser(b capture.Browser) Option {
	return func(o *overrides) { o.browser = b }
}

// WithCapabilities skips host probing.
func WithCapabilities(caps capabilities.Capabilities) Option {
	return func(o *overrides) { o.caps = &caps }
}

// WithCatalog replaces the configured catalog driver.
func WithCatalog(store catalog.Store) Option {
	return func(o *overrides) { o.catalog = store }
}

// WithBlobStore enables the artifact mirror with the given store.
func WithBlobStore(store storage.BlobStore) Option {
	return func(o *overrides) { o.blobStore = store }
}

// WithPublisher enables capture notifications with the given publisher.
func WithPublisher(pub publisher.Publisher) Option {
	return func(o *overrides) { o.publisher = pub }
}

// WithVariantOptions customizes the variant generator.
func WithVariantOptions(opts ...variants.Option) Option {
	return func(o *overrides) { o.variantOpts = append(o.variantOpts, opts...) }
}

// WithNormalizerOptions customizes the permission normalizer.
func WithNormalizerOptions(opts ...perms.Option) Option {
	return func(o *overrides) { o.normalizerOp = append(o.normalizerOp, opts...) }
}

// New builds every service from cfg. It fails fast if a configured backend
// cannot be initialized, closing whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var ov overrides
	for _, opt := range opts {
		opt(&ov)
	}

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx, ov); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, ov overrides) error {
	l := a.logger
	l.Info("initializing application services")

	if ov.caps != nil {
		a.caps = *ov.caps
	} else {
		a.caps = capabilities.NewProber(l.Named("capabilities")).Probe(ctx, a.cfg.Capture.ChromePath)
	}

	drv := ov.browser
	if drv == nil {
		chromePath := a.caps.ChromePath
		if chromePath == "" {
			chromePath = a.cfg.Capture.ChromePath
		}
		drv = browser.NewChromedp(browser.Config{
			ChromePath:  chromePath,
			UserAgent:   a.cfg.Capture.UserAgent,
			ProfileRoot: a.cfg.Capture.ProfileRoot,
		}, l.Named("browser"))
	}

	layout := a.cfg.Layout()
	gen := variants.NewGenerator(layout, a.cfg.VariantSettings(), a.caps, l.Named("variants"), ov.variantOpts...)
	orchOpts := []capture.Option{capture.WithVariantGenerator(gen)}

	if a.cfg.Permissions.Enabled {
		norm := perms.NewNormalizer(a.cfg.PermissionSettings(a.caps.CanEscalate), l.Named("perms"), ov.normalizerOp...)
		orchOpts = append(orchOpts, capture.WithPermissionNormalizer(norm))
		l.Info("permission normalization enabled", zap.String("policy", norm.Policy().String()))
	}

	hooks, err := a.hooks(ctx, ov)
	if err != nil {
		return err
	}
	if len(hooks) > 0 {
		orchOpts = append(orchOpts, capture.WithHooks(hooks...))
	}

	orch := capture.NewOrchestrator(drv, layout, a.cfg.Orchestrator(), l.Named("capture"), orchOpts...)
	a.pipeline = pipeline.New(orch, l.Named("pipeline"))

	if err := a.openCatalog(ctx, ov); err != nil {
		return err
	}

	a.runner = batch.NewRunner(a.pipeline, a.catalog, batch.Config{
		Workers:            a.cfg.Batch.Workers,
		QueueDepth:         a.cfg.Batch.QueueDepth,
		StopOnFirstFailure: a.cfg.Batch.StopOnFirstFailure,
	}, l.Named("batch"))

	l.Info("application services initialized",
		zap.String("screenshots_dir", layout.Root),
		zap.Bool("webp", a.caps.SupportsWebp),
		zap.String("catalog", a.cfg.Catalog.Driver),
		zap.Int("hooks", len(hooks)),
	)
	return nil
}

func (a *App) hooks(ctx context.Context, ov overrides) ([]capture.Hook, error) {
	var hooks []capture.Hook

	blobs := ov.blobStore
	if blobs == nil && a.cfg.Storage.GCSBucket != "" {
		store, closeFn, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, CacheControl: "public, max-age=300"})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.closers = append(a.closers, closeFn)
		a.logger.Info("using GCS artifact mirror", zap.String("bucket", a.cfg.Storage.GCSBucket))
		blobs = store
	}
	if blobs != nil {
		hooks = append(hooks, storage.NewMirror(blobs, a.cfg.Storage.Prefix, a.logger.Named("mirror")).Hook())
	}

	pub := ov.publisher
	if pub == nil && a.cfg.PubSub.TopicName != "" {
		p, closeFn, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.closers = append(a.closers, closeFn)
		a.logger.Info("publishing capture events", zap.String("topic", a.cfg.PubSub.TopicName))
		pub = p
	}
	if pub != nil {
		layout := a.cfg.Layout()
		hooks = append(hooks, publisher.Hook(pub, a.cfg.PubSub.TopicName, layout.PublicURL, nil))
	}
	return hooks, nil
}

func (a *App) openCatalog(ctx context.Context, ov overrides) error {
	if ov.catalog != nil {
		a.catalog = ov.catalog
		return nil
	}
	switch a.cfg.Catalog.Driver {
	case config.CatalogFile:
		store, err := catalogfile.Open(a.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		a.catalog = store
	case config.CatalogPostgres:
		store, err := catalogpostgres.New(ctx, catalogpostgres.Config{DSN: a.cfg.Catalog.DSN, Table: a.cfg.Catalog.Table})
		if err != nil {
			return fmt.Errorf("failed to connect catalog: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.catalog = store
	case config.CatalogMemory:
		a.logger.Info("using in-memory catalog; results are not persisted")
		a.catalog = catalogmemory.NewStore()
	default:
		return fmt.Errorf("unknown catalog driver: %s", a.cfg.Catalog.Driver)
	}
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Capabilities returns the probed host capabilities.
func (a *App) Capabilities() capabilities.Capabilities { return a.caps }

// Catalog returns the target catalog.
func (a *App) Catalog() catalog.Store { return a.catalog }

// Pipeline returns the capture facade.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Runner returns the batch runner.
func (a *App) Runner() *batch.Runner { return a.runner }

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
