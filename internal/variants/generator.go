// Package variants derives responsive widths from a master screenshot.
package variants

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capabilities"
	"github.com/JakeFAU/demoshot/internal/metrics"
)

// DefaultBreakpoints are the variant widths in pixels.
var DefaultBreakpoints = []int{480, 768, 1024}

// DefaultWebpQuality is the lossy quality passed to the WEBP encoder.
const DefaultWebpQuality = 80

// Config tunes the generator.
type Config struct {
	Breakpoints []int
	WebpQuality int
}

// Generator produces variants next to the master in the artifact layout.
type Generator struct {
	layout      artifact.Layout
	breakpoints []int
	preferred   artifact.Format
	encoders    map[artifact.Format]Encoder
	logger      *zap.Logger
}

// Option customizes a Generator.
type Option func(*Generator)

// WithEncoder overrides the encoder for a format.
func WithEncoder(format artifact.Format, enc Encoder) Option {
	return func(g *Generator) { g.encoders[format] = enc }
}

// WithPreferredFormat overrides the format chosen from capabilities.
func WithPreferredFormat(format artifact.Format) Option {
	return func(g *Generator) { g.preferred = format }
}

// NewGenerator builds a generator. WEBP is preferred only when caps report
// an available encoder.
func NewGenerator(
	layout artifact.Layout,
	cfg Config,
	caps capabilities.Capabilities,
	logger *zap.Logger,
	opts ...Option,
) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	breakpoints := cfg.Breakpoints
	if len(breakpoints) == 0 {
		breakpoints = DefaultBreakpoints
	}
	g := &Generator{
		layout:      layout,
		breakpoints: append([]int(nil), breakpoints...),
		preferred:   artifact.FormatPNG,
		encoders: map[artifact.Format]Encoder{
			artifact.FormatPNG:  PNGEncoder{},
			artifact.FormatWEBP: webpEncoderFor(caps, cfg.WebpQuality),
		},
		logger: logger,
	}
	if caps.SupportsWebp {
		g.preferred = artifact.FormatWEBP
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate writes a variant per breakpoint unless an output at least as new
// as the master already exists. It returns every variant present after the
// run. A failed breakpoint never stops the others; their errors are joined
// into the returned error. An unreadable master returns no artifacts.
func (g *Generator) Generate(ctx context.Context, masterPath, slug string) ([]artifact.Artifact, error) {
	masterInfo, err := os.Stat(masterPath)
	if err != nil {
		return nil, fmt.Errorf("stat master: %w", err)
	}
	log := g.logger.With(zap.String("slug", slug), zap.String("master", masterPath))

	var (
		master image.Image
		out    []artifact.Artifact
		errs   []error
	)
	for _, width := range g.breakpoints {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if existing, ok := g.fresh(slug, width, masterInfo.ModTime()); ok {
			metrics.ObserveVariant(string(existing.Format), "skipped")
			out = append(out, existing)
			continue
		}
		if master == nil {
			master, err = imaging.Open(masterPath)
			if err != nil {
				return nil, fmt.Errorf("decode master: %w", err)
			}
		}
		art, err := g.render(ctx, master, slug, width, log)
		if err != nil {
			errs = append(errs, fmt.Errorf("breakpoint %d: %w", width, err))
			continue
		}
		out = append(out, art)
	}
	return out, errors.Join(errs...)
}

// fresh returns an existing variant whose mtime is not before the master's.
func (g *Generator) fresh(slug string, width int, masterMod time.Time) (artifact.Artifact, bool) {
	candidates := []artifact.Format{g.preferred}
	for _, format := range []artifact.Format{artifact.FormatWEBP, artifact.FormatPNG} {
		if format != g.preferred {
			candidates = append(candidates, format)
		}
	}
	for _, format := range candidates {
		path := g.layout.VariantPath(slug, width, format)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 || info.ModTime().Before(masterMod) {
			continue
		}
		art, err := artifact.Inspect(path, format)
		if err != nil {
			continue
		}
		return art, true
	}
	return artifact.Artifact{}, false
}

// render resizes and encodes one breakpoint, retrying in PNG when the
// preferred format fails.
func (g *Generator) render(
	ctx context.Context,
	master image.Image,
	slug string,
	width int,
	log *zap.Logger,
) (artifact.Artifact, error) {
	img := scaleToWidth(master, width)
	var lastErr error
	for _, format := range g.formats() {
		path := g.layout.VariantPath(slug, width, format)
		enc, ok := g.encoders[format]
		if !ok {
			lastErr = fmt.Errorf("no encoder for %s", format)
			continue
		}
		err := artifact.PublishAtomic(path, 0o644, func(w io.Writer) error {
			return enc.Encode(ctx, img, w)
		})
		if err != nil {
			log.Warn("variant encode failed",
				zap.Int("width", width),
				zap.String("format", string(format)),
				zap.Error(err),
			)
			metrics.ObserveVariant(string(format), "error")
			lastErr = err
			continue
		}
		metrics.ObserveVariant(string(format), "written")
		g.removeSiblings(slug, width, format)

		art := artifact.Artifact{
			Path:   path,
			Width:  img.Bounds().Dx(),
			Height: img.Bounds().Dy(),
			Format: format,
		}
		if info, err := os.Stat(path); err == nil {
			art.ModTime = info.ModTime()
		}
		log.Debug("variant written", zap.String("path", path), zap.Int("width", art.Width))
		return art, nil
	}
	return artifact.Artifact{}, lastErr
}

// formats lists the preferred format first, then the lossless fallback.
func (g *Generator) formats() []artifact.Format {
	if g.preferred == artifact.FormatPNG {
		return []artifact.Format{artifact.FormatPNG}
	}
	return []artifact.Format{g.preferred, artifact.FormatPNG}
}

// removeSiblings deletes stale outputs of the same breakpoint in other formats.
func (g *Generator) removeSiblings(slug string, width int, keep artifact.Format) {
	for _, format := range []artifact.Format{artifact.FormatWEBP, artifact.FormatPNG} {
		if format == keep {
			continue
		}
		_ = os.Remove(g.layout.VariantPath(slug, width, format))
	}
}

// scaleToWidth constrains width while preserving aspect ratio. It never
// upscales.
func scaleToWidth(img image.Image, width int) image.Image {
	if img.Bounds().Dx() <= width {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}
