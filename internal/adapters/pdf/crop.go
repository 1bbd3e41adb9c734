package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// CropPNG cuts the horizontal band [fromY, toY) in pixel rows out of a
// rendered page and re-encodes it. Bounds are clamped to the image; a
// band that is empty after clamping means the caller's regions are
// inverted, which is an error rather than a silent no-op.
func (t *PopplerToolkit) CropPNG(pagePNG []byte, fromY, toY int) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pagePNG))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page image: %w", err)
	}

	bounds := img.Bounds()
	if fromY < bounds.Min.Y {
		fromY = bounds.Min.Y
	}
	if toY > bounds.Max.Y {
		toY = bounds.Max.Y
	}
	if toY <= fromY {
		return nil, fmt.Errorf("empty crop band [%d, %d) on page of height %d",
			fromY, toY, bounds.Dy())
	}

	src, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("page image type %T does not support cropping", img)
	}

	cropped := src.SubImage(image.Rect(bounds.Min.X, fromY, bounds.Max.X, toY))

	var out bytes.Buffer
	if err := png.Encode(&out, cropped); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return out.Bytes(), nil
}
