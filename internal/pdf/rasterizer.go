package pdf

import (
	"fmt"
	"iter"

	"github.com/gen2brain/go-fitz"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/model"
)

// DefaultDPI balances small-font OCR accuracy against per-page memory and time.
const DefaultDPI = 150

// Rasterizer renders PDF pages to bitmaps using MuPDF.
type Rasterizer struct {
	dpi float64
}

// NewRasterizer creates a rasterizer; dpi <= 0 falls back to DefaultDPI.
func NewRasterizer(dpi float64) *Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{dpi: dpi}
}

func (r *Rasterizer) DPI() float64 { return r.dpi }

// Open parses the document from memory. Nothing is written to disk.
func (r *Rasterizer) Open(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, apperr.DocumentParse("empty document", nil)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, apperr.DocumentParse("open pdf", err)
	}
	n := doc.NumPage()
	if n <= 0 {
		_ = doc.Close()
		return nil, apperr.DocumentParse("pdf has no pages", nil)
	}
	return &Document{doc: doc, dpi: r.dpi, pages: n}, nil
}

// Document is an opened PDF whose pages can be rendered exactly once.
type Document struct {
	doc      *fitz.Document
	dpi      float64
	pages    int
	consumed bool
}

func (d *Document) NumPages() int { return d.pages }

// Pages renders pages lazily in document order. Each page is rendered only
// when the consumer pulls it; stopping early skips the remaining pages.
func (d *Document) Pages() iter.Seq2[model.PageImage, error] {
	return func(yield func(model.PageImage, error) bool) {
		if d.consumed || d.doc == nil {
			yield(model.PageImage{}, apperr.DocumentParse("page sequence already consumed", nil))
			return
		}
		d.consumed = true

		for i := 0; i < d.pages; i++ {
			rgba, err := d.doc.ImageDPI(i, d.dpi)
			if err != nil {
				yield(model.PageImage{}, apperr.DocumentParse(fmt.Sprintf("render page %d", i+1), err))
				return
			}
			if !yield(model.PageImage{Number: i + 1, DPI: d.dpi, Image: rgba}, nil) {
				return
			}
		}
	}
}

func (d *Document) Close() error {
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}
