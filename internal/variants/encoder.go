package variants

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/JakeFAU/demoshot/internal/capabilities"
)

// Encoder serializes an image in one format.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, w io.Writer) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx context.Context, img image.Image, w io.Writer) error

// Encode calls f.
func (f EncoderFunc) Encode(ctx context.Context, img image.Image, w io.Writer) error {
	return f(ctx, img, w)
}

// PNGEncoder writes lossless PNG through imaging.
type PNGEncoder struct{}

// Encode implements Encoder.
func (PNGEncoder) Encode(_ context.Context, img image.Image, w io.Writer) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// ErrNoWebpTool is returned when no WEBP encoder is available.
var ErrNoWebpTool = errors.New("no webp encoder available")

func webpQuality(q int) int {
	if q <= 0 || q > 100 {
		return DefaultWebpQuality
	}
	return q
}

// NativeWebpEncoder encodes in-process through libwebp. It needs a cgo build;
// without one Encode returns ErrNoWebpTool.
type NativeWebpEncoder struct {
	Quality int
}

// Encode implements Encoder.
func (e NativeWebpEncoder) Encode(ctx context.Context, img image.Image, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return encodeNativeWebp(img, w, webpQuality(e.Quality))
}

// webpEncoderFor picks the in-process encoder when the build has one and the
// probed command-line tools otherwise.
func webpEncoderFor(caps capabilities.Capabilities, quality int) Encoder {
	if caps.HasNativeWebp {
		return NativeWebpEncoder{Quality: quality}
	}
	return ExecWebpEncoder{CwebpPath: caps.CwebpPath, MagickPath: caps.MagickPath, Quality: quality}
}

// ExecWebpEncoder shells out to cwebp, or ImageMagick when cwebp is missing.
// It serves hosts whose build lacks the in-process encoder.
type ExecWebpEncoder struct {
	CwebpPath  string
	MagickPath string
	Quality    int
}

// Encode implements Encoder.
func (e ExecWebpEncoder) Encode(ctx context.Context, img image.Image, w io.Writer) error {
	if e.CwebpPath == "" && e.MagickPath == "" {
		return ErrNoWebpTool
	}
	quality := webpQuality(e.Quality)

	dir, err := os.MkdirTemp("", "demoshot-webp-*")
	if err != nil {
		return fmt.Errorf("create webp workdir: %w", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup

	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.webp")
	if err := imaging.Save(img, in); err != nil {
		return fmt.Errorf("stage webp input: %w", err)
	}

	var cmd *exec.Cmd
	q := strconv.Itoa(quality)
	if e.CwebpPath != "" {
		cmd = exec.CommandContext(ctx, e.CwebpPath, "-quiet", "-q", q, in, "-o", out) // #nosec G204 -- fixed binary from capability probe.
	} else {
		cmd = exec.CommandContext(ctx, e.MagickPath, in, "-quality", q, out) // #nosec G204 -- fixed binary from capability probe.
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(cmd.Path), err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(out) // #nosec G304 -- path inside our temp dir.
	if err != nil {
		return fmt.Errorf("open webp output: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy webp output: %w", err)
	}
	return nil
}
