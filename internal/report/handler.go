package report

import (
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/middleware"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/quota"
	"github.com/emandor/labscan_service/internal/telemetry"
)

const (
	downloadName = "diagnosis.txt"
	defaultLimit = 50
	maxLimit     = 200
)

type Handler struct {
	svc   *Service
	store Store
	users UserStore
}

func NewHandler(svc *Service, store Store, users UserStore) *Handler {
	return &Handler{svc: svc, store: store, users: users}
}

func (h *Handler) CreateReport(c *fiber.Ctx) error {
	userID, _ := middleware.UserIDFrom(c)
	rid := middleware.RequestIDFrom(c)
	log := telemetry.L().With().Str("req_id", rid).Int64("user_id", userID).Logger()
	ctx := c.UserContext()

	uq, err := h.users.Quota(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("quota_lookup_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "db error"})
	}
	if !uq.CanCreateReport() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": quota.ErrQuotaExceeded.Error()})
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file required"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot open file"})
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cannot read file"})
	}

	r, err := h.svc.Analyze(ctx, Upload{
		UserID:    userID,
		RequestID: rid,
		Document: model.Document{
			Name:      fh.Filename,
			MediaType: fh.Header.Get(fiber.HeaderContentType),
			Data:      data,
		},
	})
	if err != nil {
		return respondError(c, r, err)
	}

	// only completed reports count against the quota
	if err := h.users.IncrementUsed(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("report_id", r.ID).Msg("quota_increment_failed")
	}

	if c.Accepts(fiber.MIMEApplicationJSON, fiber.MIMETextPlain) == fiber.MIMETextPlain {
		return sendDiagnosis(c, r)
	}
	return c.JSON(r)
}

func (h *Handler) ListReports(c *fiber.Ctx) error {
	userID, _ := middleware.UserIDFrom(c)
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	rows, err := h.store.ListByUser(c.UserContext(), userID, limit)
	if err != nil {
		telemetry.L().Error().Err(err).Int64("user_id", userID).Msg("list_reports_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "db error"})
	}
	return c.JSON(rows)
}

func (h *Handler) GetReport(c *fiber.Ctx) error {
	r, ferr := h.lookup(c)
	if ferr != nil {
		return c.Status(ferr.Code).JSON(fiber.Map{"error": ferr.Message})
	}
	return c.JSON(r)
}

// DownloadDiagnosis serves the diagnosis of a finished report as a text attachment.
func (h *Handler) DownloadDiagnosis(c *fiber.Ctx) error {
	r, ferr := h.lookup(c)
	if ferr != nil {
		return c.Status(ferr.Code).JSON(fiber.Map{"error": ferr.Message})
	}
	if r.State != StateDone {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "diagnosis not ready", "state": r.State})
	}
	return sendDiagnosis(c, r)
}

func (h *Handler) lookup(c *fiber.Ctx) (*Report, *fiber.Error) {
	userID, _ := middleware.UserIDFrom(c)
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	r, err := h.store.Get(c.UserContext(), userID, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "not found")
	}
	if err != nil {
		telemetry.L().Error().Err(err).Int64("report_id", id).Msg("get_report_failed")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return r, nil
}

func sendDiagnosis(c *fiber.Ctx, r *Report) error {
	c.Attachment(downloadName)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(r.Diagnosis)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, quota.ErrQuotaExceeded):
		return fiber.StatusForbidden
	}
	switch apperr.KindOf(err) {
	case apperr.KindDocumentParse, apperr.KindInvalidImage, apperr.KindNoText:
		return fiber.StatusUnprocessableEntity
	case apperr.KindOCREngine, apperr.KindDiagnosisAPI:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, r *Report, err error) error {
	body := fiber.Map{"error": err.Error()}
	if k := apperr.KindOf(err); k != "" {
		body["kind"] = k
	}
	if r != nil && r.ID != 0 {
		body["report_id"] = r.ID
		body["state"] = r.State
	}
	return c.Status(statusFor(err)).JSON(body)
}
