// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/app"
	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capabilities"
	"github.com/JakeFAU/demoshot/internal/capture"
	catalogmemory "github.com/JakeFAU/demoshot/internal/catalog/memory"
	"github.com/JakeFAU/demoshot/internal/config"
	"github.com/JakeFAU/demoshot/internal/pipeline"
	"github.com/JakeFAU/demoshot/internal/publisher"
	storagememory "github.com/JakeFAU/demoshot/internal/storage/memory"
)

// MockPublisher mocks the publisher.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

// Publish satisfies the publisher.Publisher interface for the mock.
func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

var solidBrowser = capture.BrowserFunc(func(_ context.Context, attempt capture.Attempt) (artifact.Artifact, error) {
	img := imaging.New(1200, 600, color.NRGBA{R: 30, G: 60, B: 90, A: 255})
	if err := artifact.PublishAtomic(attempt.OutputPath, 0o644, func(w io.Writer) error {
		return imaging.Encode(w, img, imaging.PNG)
	}); err != nil {
		return artifact.Artifact{}, capture.NewError(capture.KindWrite, attempt.Config.Name, err)
	}
	return artifact.Inspect(attempt.OutputPath, artifact.FormatPNG)
})

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Capture: config.CaptureConfig{ScreenshotsDir: t.TempDir(), PublicBaseURL: "https://demos.example/", MaxParallel: 2},
		Strategies: config.StrategiesConfig{
			Primary:     config.StrategyConfig{TimeoutSeconds: 5},
			Fallback:    config.StrategyConfig{TimeoutSeconds: 5},
			Problematic: config.StrategyConfig{TimeoutSeconds: 5},
		},
		Variants: config.VariantsConfig{Breakpoints: []int{480}},
		Catalog:  config.CatalogConfig{Driver: config.CatalogMemory},
		Storage:  config.StorageConfig{Prefix: "screenshots"},
		PubSub:   config.PubSubConfig{ProjectID: "demo", TopicName: "captures"},
		Batch:    config.BatchConfig{Workers: 2, QueueDepth: 4},
	}
}

func TestNewWiresCaptureHooks(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	acme := capture.Target{Slug: "acme", URL: "https://acme.example/"}
	blobs := storagememory.NewBlobStore()
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, "captures", mock.MatchedBy(func(ev publisher.CaptureEvent) bool {
		return ev.Slug == "acme" && ev.PublicURL == "https://demos.example/screenshots/acme.png"
	})).Return("msg-1", nil).Once()

	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithBrowser(solidBrowser),
		app.WithCapabilities(capabilities.Capabilities{}),
		app.WithCatalog(catalogmemory.NewStore(acme)),
		app.WithBlobStore(blobs),
		app.WithPublisher(pub),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	res, err := a.Pipeline().Capture(context.Background(), acme, pipeline.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Outcome.Diagnostics)
	require.Len(t, res.Outcome.Variants, 1)
	assert.Equal(t, artifact.FormatPNG, res.Outcome.Variants[0].Format)

	_, contentType, ok := blobs.Object("screenshots/acme.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", contentType)
	_, _, ok = blobs.Object("screenshots/acme-480.png")
	assert.True(t, ok)
	pub.AssertExpectations(t)
}

func TestNewRunnerRecordsCatalog(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.PubSub = config.PubSubConfig{}
	targets := []capture.Target{
		{Slug: "acme", URL: "https://acme.example/"},
		{Slug: "globex", URL: "https://globex.example/"},
	}
	store := catalogmemory.NewStore(targets...)

	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithBrowser(solidBrowser),
		app.WithCapabilities(capabilities.Capabilities{}),
		app.WithCatalog(store),
	)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck // nothing opened

	summary := a.Runner().Run(context.Background(), targets, pipeline.Options{})
	require.NoError(t, summary.Err())
	assert.Equal(t, 2, summary.Succeeded)

	site, ok := store.Site("globex")
	require.True(t, ok)
	assert.Equal(t, "https://demos.example/screenshots/globex.png", site.ScreenshotURL)
}

func TestNewNormalizesPermissions(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.PubSub = config.PubSubConfig{}
	cfg.Permissions = config.PermissionsConfig{
		Enabled: true,
		User:    strconv.Itoa(os.Getuid()),
		Group:   strconv.Itoa(os.Getgid()),
	}
	acme := capture.Target{Slug: "acme", URL: "https://acme.example/"}

	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithBrowser(solidBrowser),
		app.WithCapabilities(capabilities.Capabilities{}),
		app.WithCatalog(catalogmemory.NewStore(acme)),
	)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck // nothing opened

	res, err := a.Pipeline().Capture(context.Background(), acme, pipeline.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Outcome.Diagnostics)

	info, err := os.Stat(filepath.Join(cfg.Capture.ScreenshotsDir, "screenshots", "acme.png"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestNewCatalogDrivers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites:\n  - slug: acme\n    url: https://acme.example/\n"), 0o644))

	cfg := testConfig(t)
	cfg.PubSub = config.PubSubConfig{}
	cfg.Catalog = config.CatalogConfig{Driver: config.CatalogFile, Path: path}
	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithBrowser(solidBrowser),
		app.WithCapabilities(capabilities.Capabilities{}),
	)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck // nothing opened

	targets, err := a.Catalog().ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "acme", targets[0].Slug)

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("sites:\n  - slug: acme\n  - slug: acme\n"), 0o644))
	cfg.Catalog = config.CatalogConfig{Driver: config.CatalogFile, Path: dup}
	_, err = app.New(context.Background(), cfg, zap.NewNop(),
		app.WithBrowser(solidBrowser),
		app.WithCapabilities(capabilities.Capabilities{}),
	)
	require.Error(t, err)

	cfg.Catalog = config.CatalogConfig{Driver: "etcd"}
	_, err = app.New(context.Background(), cfg, zap.NewNop(),
		app.WithBrowser(solidBrowser),
		app.WithCapabilities(capabilities.Capabilities{}),
	)
	require.ErrorContains(t, err, "unknown catalog driver")
}
