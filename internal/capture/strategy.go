package capture

import (
	"context"
	"fmt"

	"github.com/JakeFAU/demoshot/internal/artifact"
)

// Attempt carries everything a browser driver needs for one render-and-save.
type Attempt struct {
	Request    Request
	Config     StrategyConfig
	Payload    Payload
	OutputPath string
}

// Browser renders one attempt and atomically publishes the PNG at
// Attempt.OutputPath. Implementations must tear down every process and
// profile directory they create before returning, on success and failure.
type Browser interface {
	Capture(ctx context.Context, attempt Attempt) (artifact.Artifact, error)
}

// BrowserFunc adapts a function to the Browser interface.
type BrowserFunc func(ctx context.Context, attempt Attempt) (artifact.Artifact, error)

// Capture calls f.
func (f BrowserFunc) Capture(ctx context.Context, attempt Attempt) (artifact.Artifact, error) {
	return f(ctx, attempt)
}

// RunAttempt executes one strategy: it validates inputs, bounds the attempt
// by the strategy timeout and classifies any failure into a *Error. When the
// caller's ctx is done the error wraps ctx.Err() and carries no Kind.
func RunAttempt(ctx context.Context, browser Browser, attempt Attempt) (artifact.Artifact, error) {
	name := attempt.Config.Name
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, fmt.Errorf("%s attempt: %w", name, err)
	}
	if err := attempt.Request.Validate(); err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := attempt.Config.Validate(); err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if attempt.OutputPath == "" {
		return artifact.Artifact{}, fmt.Errorf("%w: output path is required", ErrInvalidRequest)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, attempt.Config.Timeout)
	defer cancel()

	art, err := browser.Capture(attemptCtx, attempt)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return artifact.Artifact{}, fmt.Errorf("%s attempt: %w", name, cerr)
		}
		if attemptCtx.Err() == context.DeadlineExceeded && KindOf(err) == "" {
			return artifact.Artifact{}, NewError(KindTimeout, name, err)
		}
		return artifact.Artifact{}, Classify(name, err)
	}
	if art.Path == "" {
		art.Path = attempt.OutputPath
	}
	return art, nil
}
