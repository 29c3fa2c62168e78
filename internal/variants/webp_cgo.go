//go:build cgo

package variants

import (
	"fmt"
	"image"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

func encodeNativeWebp(img image.Image, w io.Writer, quality int) error {
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return fmt.Errorf("webp options: %w", err)
	}
	if err := webp.Encode(w, img, opts); err != nil {
		return fmt.Errorf("libwebp: %w", err)
	}
	return nil
}
