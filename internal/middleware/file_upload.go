package middleware

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/config"
	"github.com/gofiber/fiber/v2"
)

var pdfMagic = []byte("%PDF-")

// FileUploadValidator checks every multipart file for size, extension and magic bytes.
func FileUploadValidator(cfg *config.Config) fiber.Handler {
	extMap := make(map[string]struct{})
	for _, e := range cfg.AllowedFileExt {
		extMap[strings.ToLower(e)] = struct{}{}
	}
	maxSize := int64(cfg.MaxUploadBytes())

	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid multipart form",
			})
		}

		for _, files := range form.File {
			for _, file := range files {
				if err := validateFile(file, extMap, maxSize); err != nil {
					return rejectFile(c, err)
				}
			}
		}

		return c.Next()
	}
}

// rejectFile answers 422 with the error kind for content errors, otherwise
// the status carried by the fiber error.
func rejectFile(c *fiber.Ctx, err error) error {
	if k := apperr.KindOf(err); k != "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
			"kind":  k,
		})
	}
	code := fiber.StatusBadRequest
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func validateFile(file *multipart.FileHeader, extMap map[string]struct{}, maxSize int64) error {
	if file.Size > maxSize {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "file too large")
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := extMap[ext]; !ok {
		return fiber.NewError(fiber.StatusBadRequest, "invalid file type")
	}
	if file.Size == 0 {
		if ext == ".pdf" {
			return apperr.DocumentParse("empty document", nil)
		}
		return apperr.InvalidImage("zero-byte image", nil)
	}

	f, err := file.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot open file")
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	head = head[:n]

	if !isValidMagic(ext, http.DetectContentType(head), head) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid file content")
	}

	return nil
}

func isValidMagic(ext, mimeType string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return strings.HasPrefix(mimeType, "image/jpeg") &&
			len(head) > 2 && head[0] == 0xFF && head[1] == 0xD8
	case ".png":
		return strings.HasPrefix(mimeType, "image/png") &&
			bytes.HasPrefix(head, []byte{0x89, 0x50, 0x4E, 0x47})
	case ".pdf":
		return strings.HasPrefix(mimeType, "application/pdf") &&
			bytes.HasPrefix(head, pdfMagic)
	default:
		return false
	}
}
