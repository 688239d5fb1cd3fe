package model

import (
	"image"
	"mime"
	"net/http"
	"strings"

	"github.com/emandor/labscan_service/internal/apperr"
)

const (
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
	MediaPDF  = "application/pdf"
)

// Document is one uploaded file. It lives for a single request and is never stored.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// PageImage is one rasterized page of a paginated document.
type PageImage struct {
	Number int // 1-based
	DPI    float64
	Image  image.Image
}

func IsPaginated(mediaType string) bool { return mediaType == MediaPDF }

// ResolveMediaType normalizes the declared type and falls back to content
// sniffing when the client sent nothing useful.
func ResolveMediaType(declared string, data []byte) (string, error) {
	mt := normalize(declared)
	if mt == "" || mt == "application/octet-stream" {
		mt = normalize(http.DetectContentType(data))
	}
	switch mt {
	case MediaPNG, MediaJPEG, MediaPDF:
		return mt, nil
	}
	return "", apperr.DocumentParse("unsupported media type "+mt, nil)
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		v = mt
	}
	v = strings.ToLower(v)
	if v == "image/jpg" || v == "image/pjpeg" {
		return MediaJPEG
	}
	return v
}
