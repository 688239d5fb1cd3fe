package img

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emandor/labscan_service/internal/apperr"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	src, err := Decode(pngBytes(t, 40, 20))
	require.NoError(t, err)
	assert.Equal(t, 40, src.Bounds().Dx())
	assert.Equal(t, 20, src.Bounds().Dy())
}

func TestDecodeZeroByte(t *testing.T) {
	_, err := Decode(nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidImage))
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	assert.True(t, apperr.Is(err, apperr.KindInvalidImage))
}

func TestCheckBounds(t *testing.T) {
	assert.True(t, apperr.Is(CheckBounds(nil), apperr.KindInvalidImage))
	assert.True(t, apperr.Is(CheckBounds(image.NewRGBA(image.Rect(0, 0, 0, 10))), apperr.KindInvalidImage))
	assert.NoError(t, CheckBounds(image.NewRGBA(image.Rect(0, 0, 1, 1))))
}

func TestPrepareForOCR(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))

	out := PrepareForOCR(src, Options{MaxW: 100, Grayscale: true})
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())

	same := PrepareForOCR(src, Options{})
	assert.Equal(t, src, same)
}

func TestDownscaleKeepsNarrowImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 80, 60))
	assert.Equal(t, src, Downscale(src, 100))
}

func TestEncodeJPEGFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8)) // fully transparent

	b, err := EncodeJPEG(src, 10)
	require.NoError(t, err)

	out, err := jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	r, g, bl, _ := out.At(4, 4).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, bl>>8, uint32(240))
}

func TestEncodePNGRoundTripsSize(t *testing.T) {
	b, err := EncodePNG(image.NewGray(image.Rect(0, 0, 12, 7)))
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Width)
	assert.Equal(t, 7, cfg.Height)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 40, clamp(1, 40, 85))
	assert.Equal(t, 85, clamp(100, 40, 85))
	assert.Equal(t, 60, clamp(60, 40, 85))
}
