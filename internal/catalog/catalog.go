// Package catalog defines the store of demo sites the pipeline captures.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/demoshot/internal/capture"
)

// ErrNotFound is returned for unknown slugs.
var ErrNotFound = errors.New("site not found")

// Site is a catalog entry together with its capture bookkeeping.
type Site struct {
	capture.Target `yaml:",inline"`

	ScreenshotURL string     `json:"screenshot_url,omitempty" yaml:"screenshot_url,omitempty"`
	CapturedAt    *time.Time `json:"captured_at,omitempty" yaml:"captured_at,omitempty"`
	LastError     string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastFailedAt  *time.Time `json:"last_failed_at,omitempty" yaml:"last_failed_at,omitempty"`
}

// Store supplies targets and receives capture results.
type Store interface {
	ListTargets(ctx context.Context) ([]capture.Target, error)
	GetTarget(ctx context.Context, slug string) (capture.Target, error)
	RecordScreenshot(ctx context.Context, slug, publicURL string, at time.Time) error
	RecordFailure(ctx context.Context, slug, reason string, at time.Time) error
}
