package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/draw"
)

// MaxPixels guards against decompression bombs hidden in small uploads.
const MaxPixels = 40_000_000

var ErrInvalidImage = errors.New("invalid image")

// Normalized is an upload scaled into a square canvas.
type Normalized struct {
	Image  image.Image
	PNG    []byte
	Format string
}

// Normalize decodes a PNG or JPEG and fits it into a size x size canvas,
// preserving aspect ratio and filling the remainder with black.
func Normalize(data []byte, size int) (*Normalized, error) {
	if size <= 0 {
		return nil, fmt.Errorf("normalize: size must be positive, got %d", size)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("%w: dimensions %dx%d out of range", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	var src image.Image
	switch format {
	case "png":
		src, err = png.Decode(bytes.NewReader(data))
	case "jpeg":
		src, err = jpeg.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, fit(src.Bounds(), size), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode normalized image: %w", err)
	}
	return &Normalized{Image: dst, PNG: buf.Bytes(), Format: format}, nil
}

// fit returns the centered target rectangle for contain scaling.
func fit(b image.Rectangle, size int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	tw, th := size, size
	if w >= h {
		th = max(1, h*size/w)
	} else {
		tw = max(1, w*size/h)
	}
	x := (size - tw) / 2
	y := (size - th) / 2
	return image.Rect(x, y, x+tw, y+th)
}

// Hash computes the 64-bit perceptual hash of img as 16 lowercase hex digits.
func Hash(img image.Image) (string, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("perception hash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// ValidHash reports whether s looks like a value produced by Hash.
func ValidHash(s string) bool {
	if len(s) != 16 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
