package ocr

import (
	"context"
	"strconv"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/img"
	"github.com/emandor/labscan_service/internal/model"
)

// Tesseract wraps a single gosseract client configured once at startup.
// The client is not safe for concurrent use, calls are serialized.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
	langs  []string
}

func NewTesseract(langs ...string) (*Tesseract, error) {
	c := gosseract.NewClient()
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			_ = c.Close()
			return nil, apperr.OCREngine("tesseract set language", err)
		}
	}
	return &Tesseract{client: c, langs: langs}, nil
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Languages() []string { return t.langs }

func (t *Tesseract) Lines(ctx context.Context, page model.PageImage) ([]string, error) {
	if err := img.CheckBounds(page.Image); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.OCREngine("tesseract", err)
	}
	b, err := img.EncodePNG(page.Image)
	if err != nil {
		return nil, apperr.InvalidImage("encode png", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(b); err != nil {
		return nil, apperr.OCREngine("tesseract set image", err)
	}
	// 0 lets tesseract guess, uploads rarely carry a trustworthy DPI
	dpi := strconv.Itoa(int(page.DPI))
	if err := t.client.SetVariable("user_defined_dpi", dpi); err != nil {
		return nil, apperr.OCREngine("tesseract set dpi", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, apperr.OCREngine("tesseract recognize", err)
	}

	return SplitLines(text), nil
}

func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
