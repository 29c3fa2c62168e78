// Package artifact defines the on-disk layout of captured screenshots and the
// atomic write helpers used by every component that publishes an image.
package artifact

import (
	"fmt"
	"image"
	_ "image/png" // register PNG for DecodeConfig
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Format identifies the raster encoding of an artifact.
type Format string

// Supported artifact formats.
const (
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

// Ext returns the file extension (with leading dot) for the format.
func (f Format) Ext() string {
	return "." + string(f)
}

// Dir is the directory, relative to the asset root, that holds all screenshots.
const Dir = "screenshots"

// Artifact describes one image file produced by a capture or derived from it.
type Artifact struct {
	Path    string    `json:"path"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Format  Format    `json:"format"`
	ModTime time.Time `json:"mod_time"`
}

var validSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateSlug rejects slugs that would escape the screenshots directory or
// produce ambiguous file names.
func ValidateSlug(slug string) error {
	if !validSlug.MatchString(slug) || strings.Contains(slug, "..") {
		return fmt.Errorf("invalid slug %q", slug)
	}
	return nil
}

// Layout maps slugs to filesystem paths and public URLs.
type Layout struct {
	Root          string
	PublicBaseURL string
}

// ScreenshotsDir returns the absolute directory holding all artifacts.
func (l Layout) ScreenshotsDir() string {
	return filepath.Join(l.Root, Dir)
}

// MasterPath returns screenshots/{slug}.png under the root.
func (l Layout) MasterPath(slug string) string {
	return filepath.Join(l.ScreenshotsDir(), slug+FormatPNG.Ext())
}

// VariantPath returns screenshots/{slug}-{width}.{ext} under the root.
func (l Layout) VariantPath(slug string, width int, format Format) string {
	return filepath.Join(l.ScreenshotsDir(), fmt.Sprintf("%s-%d%s", slug, width, format.Ext()))
}

// PublicURL returns the stable public URL of the master artifact.
func (l Layout) PublicURL(slug string) string {
	base := strings.TrimRight(l.PublicBaseURL, "/")
	return fmt.Sprintf("%s/%s/%s%s", base, Dir, slug, FormatPNG.Ext())
}

// Inspect stats and decodes the header of an image file.
func Inspect(path string, format Format) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat %s: %w", path, err)
	}
	art := Artifact{Path: path, Format: format, ModTime: info.ModTime()}
	f, err := os.Open(path) // #nosec G304 -- path is derived from the artifact layout.
	if err != nil {
		return Artifact{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		// WEBP headers are not registered; dimensions stay zero.
		if format == FormatWEBP {
			return art, nil
		}
		return Artifact{}, fmt.Errorf("decode %s: %w", path, err)
	}
	art.Width = cfg.Width
	art.Height = cfg.Height
	return art, nil
}
