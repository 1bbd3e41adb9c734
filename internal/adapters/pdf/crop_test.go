package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPagePNG renders a synthetic page where every pixel row carries its
// row index in the red channel, so crops can be checked row by row.
func testPagePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(y % 256), G: 0, B: 0, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCropPNG_Band(t *testing.T) {
	toolkit := NewPopplerToolkit("", "")
	page := testPagePNG(t, 20, 200)

	cropped, err := toolkit.CropPNG(page, 40, 120)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(cropped))
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 80, bounds.Dy())
	assert.Equal(t, 20, bounds.Dx())

	// First row of the crop is row 40 of the page
	r, _, _, _ := img.At(bounds.Min.X, bounds.Min.Y).RGBA()
	assert.Equal(t, uint32(40), r>>8)

	// Last row of the crop is row 119 of the page
	r, _, _, _ = img.At(bounds.Min.X, bounds.Max.Y-1).RGBA()
	assert.Equal(t, uint32(119), r>>8)
}

func TestCropPNG_ClampsToImage(t *testing.T) {
	toolkit := NewPopplerToolkit("", "")
	page := testPagePNG(t, 10, 50)

	cropped, err := toolkit.CropPNG(page, -20, 500)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(cropped))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestCropPNG_EmptyBand(t *testing.T) {
	toolkit := NewPopplerToolkit("", "")
	page := testPagePNG(t, 10, 50)

	_, err := toolkit.CropPNG(page, 30, 30)
	assert.Error(t, err)

	_, err = toolkit.CropPNG(page, 40, 20)
	assert.Error(t, err)
}

func TestCropPNG_InvalidImage(t *testing.T) {
	toolkit := NewPopplerToolkit("", "")

	_, err := toolkit.CropPNG([]byte("not a png"), 0, 10)
	assert.Error(t, err)
}
