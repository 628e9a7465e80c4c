package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// maxImageDim bounds both axes of any image attachment before it reaches the
// backend, keeping per-request memory predictable.
const maxImageDim = 1024

// loadAttachment reads and decodes an image file, scales it to fit within
// maxImageDim x maxImageDim preserving aspect ratio, and re-encodes as PNG.
// Images already inside the bound pass through a decode/encode only.
func loadAttachment(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxImageDim || h > maxImageDim {
		scale := float64(maxImageDim) / float64(w)
		if h > w {
			scale = float64(maxImageDim) / float64(h)
		}
		nw := int(float64(w) * scale)
		nh := int(float64(h) * scale)
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

