//go:build !cgo

package variants

import (
	"fmt"
	"image"
	"io"
)

func encodeNativeWebp(image.Image, io.Writer, int) error {
	return fmt.Errorf("%w: built without cgo", ErrNoWebpTool)
}
