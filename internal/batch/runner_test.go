package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/demoshot/internal/capture"
	"github.com/JakeFAU/demoshot/internal/catalog/memory"
	"github.com/JakeFAU/demoshot/internal/pipeline"
)

type fakeCapturer struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	skip    map[string]bool
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (f *fakeCapturer) Capture(ctx context.Context, target capture.Target, _ pipeline.Options) (pipeline.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, target.Slug)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}
	if f.release != nil {
		<-f.release
	}
	if err := f.fail[target.Slug]; err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{
		PublicURL: "https://demos.example/screenshots/" + target.Slug + ".png",
		Outcome:   capture.Outcome{Strategy: capture.StrategyPrimary},
		Skipped:   f.skip[target.Slug],
	}, nil
}

type capturerFunc func(ctx context.Context, target capture.Target) (pipeline.Result, error)

func (f capturerFunc) Capture(ctx context.Context, target capture.Target, _ pipeline.Options) (pipeline.Result, error) {
	return f(ctx, target)
}

func (f *fakeCapturer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func targets(slugs ...string) []capture.Target {
	out := make([]capture.Target, 0, len(slugs))
	for _, s := range slugs {
		out = append(out, capture.Target{Slug: s, URL: "https://" + s + ".example/"})
	}
	return out
}

func TestRunContinuesPastFailures(t *testing.T) {
	t.Parallel()

	list := targets("alpha", "beta", "gamma")
	store := memory.NewStore(list...)
	capturer := &fakeCapturer{fail: map[string]error{
		"beta": capture.NewError(capture.KindNavigation, capture.StrategyFallback, errors.New("net::ERR_NAME_NOT_RESOLVED")),
	}}
	runner := NewRunner(capturer, store, Config{Workers: 2}, nil)

	summary := runner.Run(context.Background(), list, pipeline.Options{})

	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Stopped)
	assert.Equal(t, "alpha", summary.Results[0].Slug)
	assert.Equal(t, StatusFailed, summary.Results[1].Status)
	assert.Equal(t, string(capture.KindNavigation), summary.Results[1].Kind)
	assert.Equal(t, "https://demos.example/screenshots/gamma.png", summary.Results[2].PublicURL)
	require.ErrorContains(t, summary.Err(), "beta")

	site, ok := store.Site("alpha")
	require.True(t, ok)
	assert.Equal(t, "https://demos.example/screenshots/alpha.png", site.ScreenshotURL)
	failed, ok := store.Site("beta")
	require.True(t, ok)
	assert.NotEmpty(t, failed.LastError)
	assert.NotNil(t, failed.LastFailedAt)
}

func TestRunStopOnFirstFailure(t *testing.T) {
	t.Parallel()

	list := targets("alpha", "beta", "gamma", "delta")
	capturer := &fakeCapturer{fail: map[string]error{"alpha": capture.NewError(capture.KindTimeout, capture.StrategyFallback, nil)}}
	runner := NewRunner(capturer, nil, Config{Workers: 1, QueueDepth: 1, StopOnFirstFailure: true}, nil)

	summary := runner.Run(context.Background(), list, pipeline.Options{})

	assert.True(t, summary.Stopped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"alpha"}, capturer.Calls())
	assert.Equal(t, 3, summary.Canceled)
	for _, r := range summary.Results[1:] {
		assert.Equal(t, StatusCanceled, r.Status)
	}
}

func TestRunBoundsWorkers(t *testing.T) {
	t.Parallel()

	capturer := &fakeCapturer{delay: 20 * time.Millisecond}
	runner := NewRunner(capturer, nil, Config{Workers: 2, QueueDepth: 1}, nil)

	summary := runner.Run(context.Background(), targets("a1", "a2", "a3", "a4", "a5", "a6"), pipeline.Options{})

	assert.Equal(t, 6, summary.Succeeded)
	assert.LessOrEqual(t, capturer.peak.Load(), int32(2))
	assert.Len(t, capturer.Calls(), 6)
}

func TestRunSkippedTargetsAreNotRecorded(t *testing.T) {
	t.Parallel()

	list := targets("alpha")
	store := memory.NewStore(list...)
	capturer := &fakeCapturer{skip: map[string]bool{"alpha": true}}
	runner := NewRunner(capturer, store, Config{}, nil)

	summary := runner.Run(context.Background(), list, pipeline.Options{})

	assert.Equal(t, 1, summary.Skipped)
	require.NoError(t, summary.Err())
	site, ok := store.Site("alpha")
	require.True(t, ok)
	assert.Nil(t, site.CapturedAt)
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	capturer := &fakeCapturer{}
	summary := NewRunner(capturer, nil, Config{Workers: 2}, nil).Run(ctx, targets("alpha", "beta"), pipeline.Options{})

	assert.Equal(t, 2, summary.Canceled)
	assert.Empty(t, capturer.Calls())
}

func TestRunCancellationMidCaptureIsNotAFailure(t *testing.T) {
	t.Parallel()

	list := targets("alpha")
	store := memory.NewStore(list...)
	started := make(chan struct{})
	capturer := capturerFunc(func(ctx context.Context, _ capture.Target) (pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return pipeline.Result{}, fmt.Errorf("primary attempt: %w", ctx.Err())
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	summary := NewRunner(capturer, store, Config{Workers: 1, StopOnFirstFailure: true}, nil).
		Run(ctx, list, pipeline.Options{})

	assert.Equal(t, 1, summary.Canceled)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.Stopped)
	assert.Equal(t, StatusCanceled, summary.Results[0].Status)
	assert.Empty(t, summary.Results[0].Kind)

	site, ok := store.Site("alpha")
	require.True(t, ok)
	assert.Empty(t, site.LastError)
	assert.Nil(t, site.LastFailedAt)
}

func TestFinalStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		summary Summary
		want    JobStatus
	}{
		{"all ok", Summary{Results: make([]TargetResult, 2), Succeeded: 1, Skipped: 1}, JobStatusSucceeded},
		{"some failed", Summary{Results: make([]TargetResult, 2), Succeeded: 1, Failed: 1}, JobStatusPartial},
		{"all failed", Summary{Results: make([]TargetResult, 2), Failed: 2}, JobStatusFailed},
		{"stopped", Summary{Results: make([]TargetResult, 3), Failed: 1, Canceled: 2, Stopped: true}, JobStatusFailed},
		{"shutdown", Summary{Results: make([]TargetResult, 2), Succeeded: 1, Canceled: 1}, JobStatusCanceled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, finalStatus(tt.summary))
		})
	}
}
