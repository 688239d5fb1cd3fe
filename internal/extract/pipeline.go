package extract

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/img"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/ocr"
	"github.com/emandor/labscan_service/internal/pdf"
	"github.com/emandor/labscan_service/internal/telemetry"
)

// PageSource is a single-pass sequence of rendered pages.
type PageSource interface {
	Pages() iter.Seq2[model.PageImage, error]
	Close() error
}

type Rasterizer interface {
	Rasterize(data []byte) (PageSource, error)
}

type RasterizeFunc func(data []byte) (PageSource, error)

func (f RasterizeFunc) Rasterize(data []byte) (PageSource, error) { return f(data) }

// PDF adapts the MuPDF rasterizer.
func PDF(r *pdf.Rasterizer) Rasterizer {
	return RasterizeFunc(func(data []byte) (PageSource, error) {
		doc, err := r.Open(data)
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// Result holds recognized lines per page, in page order.
type Result struct {
	MediaType string
	Pages     [][]string
	Text      string
}

func (r Result) PageCount() int { return len(r.Pages) }

// Empty reports whether OCR found no text on any page.
func (r Result) Empty() bool { return strings.TrimSpace(r.Text) == "" }

type Pipeline struct {
	raster Rasterizer
	engine ocr.Engine
	prep   img.Options
}

func New(raster Rasterizer, engine ocr.Engine, prep img.Options) *Pipeline {
	return &Pipeline{raster: raster, engine: engine, prep: prep}
}

func (p *Pipeline) EngineName() string { return p.engine.Name() }

// Extract runs OCR over the document. Paginated documents are rasterized and
// every page is recognized exactly once, in order; images go straight to OCR.
func (p *Pipeline) Extract(ctx context.Context, doc model.Document) (Result, error) {
	mt, err := model.ResolveMediaType(doc.MediaType, doc.Data)
	if err != nil {
		return Result{}, err
	}

	if model.IsPaginated(mt) {
		pages, err := p.extractPages(ctx, doc.Data)
		if err != nil {
			return Result{}, err
		}
		return Result{MediaType: mt, Pages: pages, Text: JoinPages(pages)}, nil
	}

	src, err := img.Decode(doc.Data)
	if err != nil {
		return Result{}, err
	}
	lines, err := p.recognize(ctx, model.PageImage{Number: 1, Image: src})
	if err != nil {
		return Result{}, err
	}
	return Result{MediaType: mt, Pages: [][]string{lines}, Text: JoinLines(lines)}, nil
}

func (p *Pipeline) extractPages(ctx context.Context, data []byte) ([][]string, error) {
	src, err := p.raster.Rasterize(data)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var pages [][]string
	for page, err := range src.Pages() {
		if err != nil {
			return nil, err
		}
		lines, err := p.recognize(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Number, err)
		}
		pages = append(pages, lines)
	}
	if len(pages) == 0 {
		return nil, apperr.DocumentParse("pdf has no pages", nil)
	}
	return pages, nil
}

func (p *Pipeline) recognize(ctx context.Context, page model.PageImage) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.OCREngine("extraction aborted", err)
	}
	before := page.Image.Bounds().Dx()
	page.Image = img.PrepareForOCR(page.Image, p.prep)
	page.DPI = scaledDPI(page.DPI, before, page.Image.Bounds().Dx())

	lines, err := p.engine.Lines(ctx, page)
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.OCREngine(p.engine.Name(), err)
		}
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	telemetry.L().Debug().Str("engine", p.engine.Name()).Int("page", page.Number).Int("lines", len(lines)).Msg("ocr_done")
	return lines, nil
}

// scaledDPI keeps the resolution hint true to the pixels the engine sees.
func scaledDPI(dpi float64, before, after int) float64 {
	if dpi <= 0 || before <= 0 || after == before {
		return dpi
	}
	return dpi * float64(after) / float64(before)
}

// JoinLines joins the lines of one page.
func JoinLines(lines []string) string { return strings.Join(lines, "\n") }

// JoinPages joins pages with a blank line between them.
func JoinPages(pages [][]string) string {
	parts := make([]string, len(pages))
	for i, lines := range pages {
		parts[i] = JoinLines(lines)
	}
	return strings.Join(parts, "\n\n")
}
