// Package capabilities probes the host once at startup for the external
// tools the pipeline can use.
package capabilities

import (
	"context"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Capabilities is the negotiated feature set, computed once and passed down.
type Capabilities struct {
	SupportsWebp  bool   `json:"supports_webp"`
	HasNativeWebp bool   `json:"has_native_webp"`
	HasCwebp      bool   `json:"has_cwebp"`
	HasImagick    bool   `json:"has_imagick"`
	CanEscalate   bool   `json:"can_escalate"`
	IsRoot        bool   `json:"is_root"`
	ChromePath    string `json:"chrome_path,omitempty"`
	CwebpPath     string `json:"cwebp_path,omitempty"`
	MagickPath    string `json:"magick_path,omitempty"`
}

// Prober discovers capabilities. Fields are seams for tests.
type Prober struct {
	LookPath func(string) (string, error)
	Geteuid  func() int
	// RunSudo checks whether passwordless sudo works.
	RunSudo func(ctx context.Context) error
	Logger  *zap.Logger
	// NativeWebp reports an in-process libwebp encoder.
	NativeWebp bool
}

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// NewProber returns a Prober bound to the host.
func NewProber(logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		LookPath: exec.LookPath,
		Geteuid:  os.Geteuid,
		RunSudo: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return exec.CommandContext(ctx, "sudo", "-n", "true").Run()
		},
		Logger:     logger,
		NativeWebp: nativeWebp,
	}
}

// Probe inspects the host. chromePath, when set, is reported as-is.
func (p *Prober) Probe(ctx context.Context, chromePath string) Capabilities {
	caps := Capabilities{HasNativeWebp: p.NativeWebp}

	if path, err := p.LookPath("cwebp"); err == nil {
		caps.HasCwebp = true
		caps.CwebpPath = path
	}
	for _, name := range []string{"magick", "convert"} {
		if path, err := p.LookPath(name); err == nil {
			caps.HasImagick = true
			caps.MagickPath = path
			break
		}
	}
	caps.SupportsWebp = caps.HasNativeWebp || caps.HasCwebp || caps.HasImagick

	caps.ChromePath = chromePath
	if caps.ChromePath == "" {
		for _, name := range chromeCandidates {
			if path, err := p.LookPath(name); err == nil {
				caps.ChromePath = path
				break
			}
		}
	}

	caps.IsRoot = p.Geteuid() == 0
	if caps.IsRoot {
		caps.CanEscalate = true
	} else if _, err := p.LookPath("sudo"); err == nil && p.RunSudo != nil {
		caps.CanEscalate = p.RunSudo(ctx) == nil
	}

	p.Logger.Info("capabilities probed",
		zap.Bool("supports_webp", caps.SupportsWebp),
		zap.Bool("has_native_webp", caps.HasNativeWebp),
		zap.Bool("has_cwebp", caps.HasCwebp),
		zap.Bool("has_imagick", caps.HasImagick),
		zap.Bool("can_escalate", caps.CanEscalate),
		zap.Bool("is_root", caps.IsRoot),
		zap.String("chrome_path", caps.ChromePath),
	)
	return caps
}
