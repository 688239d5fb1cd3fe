package ocr

import (
	"context"
	"strings"

	"github.com/emandor/labscan_service/internal/model"
)

// Engine recognizes text on one raster image. An image without text yields
// an empty slice and no error.
type Engine interface {
	Name() string
	Lines(ctx context.Context, page model.PageImage) ([]string, error)
}

// SplitLines turns raw engine output into trimmed, non-blank lines, keeping
// the engine's order.
func SplitLines(text string) []string {
	lines := make([]string, 0)
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// ParseLanguages splits a tesseract style language list ("eng+ind" or "eng,ind").
func ParseLanguages(list string) []string {
	var langs []string
	for _, l := range strings.FieldsFunc(list, func(r rune) bool { return r == '+' || r == ',' || r == ' ' }) {
		langs = append(langs, l)
	}
	return langs
}
