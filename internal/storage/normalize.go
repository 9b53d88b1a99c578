package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// NormalizedImageMime is the encoding every stored image ends up in. The
// original buffer is never persisted once normalization succeeds.
const NormalizedImageMime = "image/jpeg"

const (
	maxImageEdge = 1920
	jpegQuality  = 80
)

// NormalizeImage decodes an uploaded image, downscales it so neither edge
// exceeds maxImageEdge, and re-encodes it as JPEG. A buffer that does not
// decode as an image is an error, not a passthrough.
func NormalizeImage(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	src = scaleDown(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func scaleDown(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxImageEdge && h <= maxImageEdge {
		return src
	}

	scale := float64(maxImageEdge) / float64(w)
	if h > w {
		scale = float64(maxImageEdge) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
