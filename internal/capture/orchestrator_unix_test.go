//go:build unix

package capture

import (
	"context"
	"os"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/perms"
)

// Not parallel: the umask is process-wide.
func TestCaptureNormalizesScreenshotsDirUnderRestrictiveUmask(t *testing.T) {
	old := syscall.Umask(0o027)
	defer syscall.Umask(old)

	owner := perms.OwnershipPolicy{User: strconv.Itoa(os.Getuid()), Group: strconv.Itoa(os.Getgid())}
	normalizer := perms.NewNormalizer(perms.Settings{Explicit: owner}, zap.NewNop())
	o := newTestOrchestrator(t, &scriptedBrowser{t: t}, WithPermissionNormalizer(normalizer))

	outcome, err := o.Capture(context.Background(), acme, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Permissions.Errors)
	assert.Positive(t, outcome.Permissions.Changed)

	info, err := os.Stat(o.Layout().ScreenshotsDir())
	require.NoError(t, err)
	assert.Equal(t, perms.DirMode, info.Mode().Perm())

	info, err = os.Stat(outcome.Master.Path)
	require.NoError(t, err)
	assert.Equal(t, perms.FileMode, info.Mode().Perm())
}
