package img

import (
	"image"

	"github.com/disintegration/imaging"
)

// Downscale shrinks src proportionally to maxW. Narrower images are returned untouched.
func Downscale(src image.Image, maxW int) image.Image {
	if maxW <= 0 || src.Bounds().Dx() <= maxW {
		return src
	}
	return imaging.Resize(src, maxW, 0, imaging.Lanczos)
}
