package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/demoshot/internal/catalog"
)

const sitesYAML = `sites:
  - slug: globex
    url: https://globex.example/
    known_problematic: true
  - slug: acme
    url: https://acme.example/
`

func TestOpenListsTargets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sitesYAML), 0o600))

	s, err := Open(path)
	require.NoError(t, err)

	targets, err := s.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "acme", targets[0].Slug)
	assert.Equal(t, "https://acme.example/", targets[0].URL)
	assert.True(t, targets[1].KnownProblematic)

	_, err = s.GetTarget(context.Background(), "initech")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestRecordScreenshotPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sitesYAML), 0o600))
	s, err := Open(path)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordFailure(context.Background(), "acme", "timeout", at))
	require.NoError(t, s.RecordScreenshot(context.Background(), "acme", "https://demos.example/screenshots/acme.png", at))

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Len(t, reopened.sites, 2)
	site := reopened.sites[1]
	assert.Equal(t, "acme", site.Slug)
	assert.Equal(t, "https://demos.example/screenshots/acme.png", site.ScreenshotURL)
	assert.Empty(t, site.LastError)
	require.NotNil(t, site.CapturedAt)
	assert.True(t, site.CapturedAt.Equal(at))
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	targets, err := s.ListTargets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestOpenRejectsBadCatalogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("sites:\n  - slug: a\n    url: https://a\n  - slug: a\n    url: https://b\n"), 0o600))
	_, err := Open(dup)
	require.ErrorContains(t, err, "duplicate slug")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sites:\n  - slug: ../up\n    url: https://a\n"), 0o600))
	_, err = Open(bad)
	require.Error(t, err)
}
