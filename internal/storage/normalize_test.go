package storage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeImageReencodesAsJPEG(t *testing.T) {
	out, err := NormalizeImage(encodePNG(t, 100, 60))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 60, decoded.Bounds().Dy())
}

func TestNormalizeImageDownscalesLargeImages(t *testing.T) {
	out, err := NormalizeImage(encodePNG(t, maxImageEdge*2, maxImageEdge))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, maxImageEdge, decoded.Bounds().Dx())
	assert.Equal(t, maxImageEdge/2, decoded.Bounds().Dy())
}

func TestNormalizeImageRejectsNonImageData(t *testing.T) {
	_, err := NormalizeImage([]byte("definitely not an image"))
	assert.Error(t, err)
}
