package main

import (
	"flag"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/emandor/labscan_service/internal/auth"
	"github.com/emandor/labscan_service/internal/cache"
	"github.com/emandor/labscan_service/internal/config"
	"github.com/emandor/labscan_service/internal/db"
	"github.com/emandor/labscan_service/internal/extract"
	"github.com/emandor/labscan_service/internal/img"
	"github.com/emandor/labscan_service/internal/middleware"
	"github.com/emandor/labscan_service/internal/ocr"
	"github.com/emandor/labscan_service/internal/pdf"
	"github.com/emandor/labscan_service/internal/providers"
	"github.com/emandor/labscan_service/internal/report"
	"github.com/emandor/labscan_service/internal/telemetry"
	"github.com/emandor/labscan_service/internal/ws"
)

func main() {
	doMigrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	cfg := config.Load()
	tlog := telemetry.Init(telemetry.FromEnv(config.GetEnv))

	sqlxDB := db.MustConnect(cfg.DBDSN)
	if *doMigrate {
		db.MustMigrate(sqlxDB)
		log.Println("migrations done")
		return
	}

	if err := cfg.Validate(); err != nil {
		tlog.Fatal().Err(err).Msg("invalid config")
	}
	rdb := cache.MustConnect(cfg.RedisAddr, cfg.RedisDB)
	tlog.Info().
		Str("port", cfg.AppPort).
		Str("ocr_engine", cfg.OCREngine).
		Str("diagnosis", cfg.DiagnosisProvider).
		Bool("dry_run", cfg.DiagnosisDryRun).
		Msg("booting labscan_service")

	engine, closeEngine := buildEngine(cfg)
	defer closeEngine()

	diag, err := providers.FromConfig(cfg)
	if err != nil {
		tlog.Fatal().Err(err).Msg("diagnosis client")
	}

	pipe := extract.New(
		extract.PDF(pdf.NewRasterizer(pdf.DefaultDPI)),
		engine,
		img.Options{MaxW: cfg.OCRImgMaxW, Grayscale: cfg.OCRImgGrayscale},
	)
	hub := ws.NewHub()
	store := report.NewSQLStore(sqlxDB)
	svc := report.NewService(store, cache.NewStore(rdb), pipe, diag, hub, report.Options{
		OCRLang:          cfg.OCRLang,
		CacheTTL:         cfg.OCRCacheTTL,
		ExtractTimeout:   cfg.ExtractTimeout,
		DiagnosisTimeout: cfg.DiagnosisTimeout,
		LockTTL:          cfg.ExtractTimeout + cfg.DiagnosisTimeout,
	})
	rh := report.NewHandler(svc, store, store)

	app := fiber.New(fiber.Config{
		// multipart overhead on top of the per-file limit
		BodyLimit: cfg.MaxUploadBytes() + 1<<20,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Recover())
	app.Use(middleware.SecureHeaders())
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.RateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow))
	app.Use(middleware.RequestLog())

	authReg := auth.NewRegistry(cfg, sqlxDB, rdb)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/api/v1/auth/google/login", authReg.GoogleLogin)
	app.Get("/api/v1/auth/google/callback", authReg.GoogleCallback)

	protected := app.Group("/api/v1", middleware.AuthSession(authReg))

	protected.Post("/auth/logout", authReg.Logout)
	protected.Get("/me", authReg.Me)

	protected.Post("/reports", middleware.FileUploadValidator(cfg), rh.CreateReport)
	protected.Get("/reports", rh.ListReports)
	protected.Get("/reports/:id", rh.GetReport)
	protected.Get("/reports/:id/diagnosis.txt", rh.DownloadDiagnosis)

	app.Use("/ws", middleware.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(hub.Handle))

	log.Fatal(app.Listen(":" + cfg.AppPort))
}

func buildEngine(cfg *config.Config) (ocr.Engine, func()) {
	tlog := telemetry.L()
	switch cfg.OCREngine {
	case "openai":
		return ocr.NewOpenAIVision(cfg.OCROpenAIKey, cfg.OCROpenAIModel, cfg.OpenAIRPS, cfg.OpenAIBurst, cfg.OCRImgQuality), func() {}
	default:
		t, err := ocr.NewTesseract(ocr.ParseLanguages(cfg.OCRLang)...)
		if err != nil {
			tlog.Fatal().Err(err).Msg("tesseract init")
		}
		return t, func() { _ = t.Close() }
	}
}
