package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capabilities"
	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/variants"
)

var acme = capture.Target{Slug: "acme", URL: "https://acme.example/"}

// fakeBrowser renders a solid 1200x750 page unless fail says otherwise.
type fakeBrowser struct {
	fail  func(strategy string) error
	calls atomic.Int32
}

func (f *fakeBrowser) Capture(_ context.Context, attempt capture.Attempt) (artifact.Artifact, error) {
	f.calls.Add(1)
	if f.fail != nil {
		if err := f.fail(attempt.Config.Name); err != nil {
			return artifact.Artifact{}, err
		}
	}
	img := imaging.New(1200, 750, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
	err := artifact.PublishAtomic(attempt.OutputPath, 0o644, func(w io.Writer) error {
		return imaging.Encode(w, img, imaging.PNG)
	})
	if err != nil {
		return artifact.Artifact{}, capture.NewError(capture.KindWrite, attempt.Config.Name, err)
	}
	return artifact.Inspect(attempt.OutputPath, artifact.FormatPNG)
}

// stubWebp stands in for cwebp by writing PNG bytes under the .webp name.
var stubWebp = variants.EncoderFunc(func(ctx context.Context, img image.Image, w io.Writer) error {
	return variants.PNGEncoder{}.Encode(ctx, img, w)
})

func newPipeline(t *testing.T, browser capture.Browser, opts ...variants.Option) (*Pipeline, artifact.Layout) {
	t.Helper()
	layout := artifact.Layout{Root: t.TempDir(), PublicBaseURL: "https://demos.example/"}
	opts = append([]variants.Option{variants.WithEncoder(artifact.FormatWEBP, stubWebp)}, opts...)
	gen := variants.NewGenerator(layout, variants.Config{}, capabilities.Capabilities{SupportsWebp: true}, zap.NewNop(), opts...)
	orch := capture.NewOrchestrator(browser, layout, capture.DefaultOrchestratorConfig(), zap.NewNop(),
		capture.WithVariantGenerator(gen))
	return New(orch, zap.NewNop()), layout
}

func TestCapturePrimarySucceedsEndToEnd(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	p, layout := newPipeline(t, browser)

	res, err := p.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://demos.example/screenshots/acme.png", res.PublicURL)
	assert.False(t, res.Skipped)
	assert.Equal(t, capture.StrategyPrimary, res.Outcome.Strategy)
	assert.FileExists(t, layout.MasterPath("acme"))
	assert.Empty(t, res.Outcome.Diagnostics)

	require.Len(t, res.Outcome.Variants, 3)
	for i, width := range []int{480, 768, 1024} {
		v := res.Outcome.Variants[i]
		assert.Equal(t, layout.VariantPath("acme", width, artifact.FormatWEBP), v.Path)
		assert.FileExists(t, v.Path)
		assert.LessOrEqual(t, v.Width, width)
		assert.LessOrEqual(t, v.Width, res.Outcome.Master.Width)
	}
}

func TestCaptureFallbackAfterPrimaryTimeout(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{fail: func(strategy string) error {
		if strategy == capture.StrategyPrimary {
			return context.DeadlineExceeded
		}
		return nil
	}}
	p, layout := newPipeline(t, browser)

	res, err := p.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, browser.calls.Load())
	assert.Equal(t, capture.WaitDOMContentLoaded, res.Outcome.WaitPolicy)
	assert.Equal(t, capture.StrategyFallback, res.Outcome.Strategy)
	assert.ErrorIs(t, res.Outcome.PrimaryError, capture.ErrTimeout)
	assert.FileExists(t, layout.MasterPath("acme"))
}

func TestCaptureBothStrategiesFailNavigation(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{fail: func(string) error {
		return errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
	}}
	p, layout := newPipeline(t, browser)

	_, err := p.Capture(context.Background(), acme, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrNavigation)
	assert.EqualValues(t, 2, browser.calls.Load())

	_, statErr := os.Stat(layout.MasterPath("acme"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCaptureReusesExistingMasterUnlessForced(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	p, _ := newPipeline(t, browser)

	_, err := p.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)

	res, err := p.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.EqualValues(t, 1, browser.calls.Load())
	assert.Len(t, res.Outcome.Variants, 3)
	assert.Equal(t, "https://demos.example/screenshots/acme.png", res.PublicURL)

	res, err = p.Capture(context.Background(), acme, Options{Force: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.EqualValues(t, 2, browser.calls.Load())
}

func TestCaptureSurvivesEncodeFailure(t *testing.T) {
	t.Parallel()

	broken := variants.EncoderFunc(func(context.Context, image.Image, io.Writer) error {
		return errors.New("encoder unavailable")
	})
	p, layout := newPipeline(t, &fakeBrowser{},
		variants.WithEncoder(artifact.FormatWEBP, broken),
		variants.WithEncoder(artifact.FormatPNG, broken),
	)

	res, err := p.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)
	assert.FileExists(t, layout.MasterPath("acme"))
	assert.Empty(t, res.Outcome.Variants)
	require.NotEmpty(t, res.Outcome.Diagnostics)
	assert.ErrorIs(t, res.Outcome.Diagnostics[0], capture.ErrEncode)
}

func TestRegenerateVariants(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{}
	p, layout := newPipeline(t, browser)

	_, err := p.RegenerateVariants(context.Background(), acme)
	require.ErrorIs(t, err, ErrMasterMissing)

	_, err = p.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(layout.VariantPath("acme", 768, artifact.FormatWEBP)))

	out, err := p.RegenerateVariants(context.Background(), acme)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.FileExists(t, layout.VariantPath("acme", 768, artifact.FormatWEBP))
	assert.EqualValues(t, 1, browser.calls.Load())

	_, err = p.RegenerateVariants(context.Background(), capture.Target{Slug: "../x"})
	require.ErrorIs(t, err, capture.ErrInvalidRequest)
}
