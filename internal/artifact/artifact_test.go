package artifact_test

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/demoshot/internal/artifact"
)

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	layout := artifact.Layout{Root: "/srv/public", PublicBaseURL: "https://cdn.example.com/assets/"}

	assert.Equal(t, "/srv/public/screenshots/acme.png", layout.MasterPath("acme"))
	assert.Equal(t, "/srv/public/screenshots/acme-480.webp", layout.VariantPath("acme", 480, artifact.FormatWEBP))
	assert.Equal(t, "/srv/public/screenshots/acme-1024.png", layout.VariantPath("acme", 1024, artifact.FormatPNG))
	assert.Equal(t, "https://cdn.example.com/assets/screenshots/acme.png", layout.PublicURL("acme"))
}

func TestValidateSlug(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"acme", "acme-shop", "a1.demo_site"} {
		assert.NoError(t, artifact.ValidateSlug(ok), ok)
	}
	for _, bad := range []string{"", "../etc", "Acme", "a/b", "-lead", "a..b"} {
		assert.Error(t, artifact.ValidateSlug(bad), bad)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "screenshots", "acme.png")

	t.Run("Publishes", func(t *testing.T) {
		require.NoError(t, artifact.WriteFileAtomic(target, encodePNG(t, 40, 20), 0o644))
		art, err := artifact.Inspect(target, artifact.FormatPNG)
		require.NoError(t, err)
		assert.Equal(t, 40, art.Width)
		assert.Equal(t, 20, art.Height)
	})

	t.Run("RejectsEmpty", func(t *testing.T) {
		err := artifact.WriteFileAtomic(filepath.Join(dir, "screenshots", "empty.png"), nil, 0o644)
		require.ErrorIs(t, err, artifact.ErrEmpty)
		_, statErr := os.Stat(filepath.Join(dir, "screenshots", "empty.png"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("LeavesNoTempFiles", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(dir, "screenshots"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}
