package img

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/emandor/labscan_service/internal/apperr"
)

type Options struct {
	MaxW      int // 0 keeps the original width
	Grayscale bool
}

// Decode reads a PNG or JPEG upload, applying EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperr.InvalidImage("zero-byte image", nil)
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.InvalidImage("decode image", err)
	}
	if err := CheckBounds(src); err != nil {
		return nil, err
	}
	return src, nil
}

// CheckBounds rejects nil images and images without pixels.
func CheckBounds(src image.Image) error {
	if src == nil {
		return apperr.InvalidImage("nil image", nil)
	}
	if b := src.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return apperr.InvalidImage("zero-dimension image", nil)
	}
	return nil
}

// PrepareForOCR: resize → grayscale (optional)
func PrepareForOCR(src image.Image, opts Options) image.Image {
	src = Downscale(src, opts.MaxW)
	if opts.Grayscale {
		src = imaging.Grayscale(src)
	}
	return src
}

// EncodeJPEG flattens alpha onto white and encodes with quality clamped to 40..85.
func EncodeJPEG(src image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, forceOpaque(src), &jpeg.Options{Quality: clamp(quality, 40, 85)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodePNG(src image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// transparent regions become white, OCR engines read them as paper
func forceOpaque(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
