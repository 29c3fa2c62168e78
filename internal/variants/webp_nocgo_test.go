//go:build !cgo

package variants

import (
	"context"
	"image/color"
	"io"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func TestNativeWebpEncoderUnavailableWithoutCgo(t *testing.T) {
	t.Parallel()

	err := NativeWebpEncoder{}.Encode(context.Background(), imaging.New(4, 4, color.White), io.Discard)
	require.ErrorIs(t, err, ErrNoWebpTool)
}
