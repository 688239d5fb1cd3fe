package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv, AppPort, BaseURL string
	ClientURL                string
	DBDSN                    string
	RedisAddr                string
	RedisDB                  int
	SessionCookieName        string

	GoogleClientID, GoogleClientSecret, GoogleRedirectURL string
	OAuthAllowedDomains                                   []string
	CORSOrigins                                           []string

	OpenAIKey, OpenAIModel       string
	AnthropicKey, AnthropicModel string
	GeminiKey, GeminiModel       string

	DiagnosisProvider string
	DiagnosisDryRun   bool
	DiagnosisTimeout  time.Duration

	OCREngine       string
	OCRLang         string
	OCROpenAIModel  string
	OCROpenAIKey    string
	OCRImgMaxW      int
	OCRImgQuality   int
	OCRImgGrayscale bool
	OCRCacheTTL     time.Duration
	ExtractTimeout  time.Duration

	OpenAIRPS   int
	OpenAIBurst int

	RateLimitMax    int
	RateLimitWindow time.Duration

	ReportQuota        int
	AllowedMaxFileSize int // MB
	AllowedFileExt     []string
}

func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		AppEnv:              get("APP_ENV", "dev"),
		AppPort:             get("APP_PORT", "8080"),
		BaseURL:             get("APP_BASE_URL", "http://localhost:8080"),
		ClientURL:           get("CLIENT_URL", "http://localhost:5173"),
		DBDSN:               must("DB_DSN"),
		RedisAddr:           get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:             atoi(get("REDIS_DB", "0")),
		SessionCookieName:   get("SESSION_COOKIE_NAME", "labscan_sid"),
		CORSOrigins:         split(get("CORS_ORIGINS", "http://localhost:5173")),
		GoogleClientID:      must("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  must("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:   must("GOOGLE_REDIRECT_URL"),
		OAuthAllowedDomains: split(get("OAUTH_ALLOWED_DOMAINS", "")),
		OpenAIKey:           get("OPENAI_API_KEY", ""),
		OpenAIModel:         get("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicKey:        get("ANTHROPIC_API_KEY", ""),
		AnthropicModel:      get("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		GeminiKey:           get("GEMINI_API_KEY", ""),
		GeminiModel:         get("GEMINI_MODEL", "gemini-2.0-flash"),
		DiagnosisProvider:   strings.ToLower(get("DIAGNOSIS_PROVIDER", "gemini")),
		DiagnosisDryRun:     parseBool(get("DIAGNOSIS_DRY_RUN", "false")),
		DiagnosisTimeout:    mustDuration(get("DIAGNOSIS_TIMEOUT", "60s")),
		OCREngine:           strings.ToLower(get("OCR_ENGINE", "tesseract")),
		OCRLang:             get("OCR_LANG", "eng"),
		OCROpenAIModel:      get("OCR_OPENAI_MODEL", "gpt-4o-mini"),
		OCROpenAIKey:        get("OCR_OPENAI_KEY", get("OPENAI_API_KEY", "")),
		OCRImgMaxW:          atoi(get("OCR_IMG_MAX_W", "0")),
		OCRImgQuality:       atoi(get("OCR_IMG_QUALITY", "80")),
		OCRImgGrayscale:     parseBool(get("OCR_IMG_GRAYSCALE", "true")),
		OCRCacheTTL:         mustDuration(get("OCR_CACHE_TTL", "168h")),
		ExtractTimeout:      mustDuration(get("EXTRACT_TIMEOUT", "2m")),
		OpenAIRPS:           atoi(get("OPENAI_RPS", "2")),
		OpenAIBurst:         atoi(get("OPENAI_BURST", "2")),
		RateLimitMax:        GetEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:     mustDuration(get("RATE_LIMIT_WINDOW", "30s")),
		ReportQuota:         GetEnvInt("REPORT_QUOTA", 20),
		AllowedMaxFileSize:  GetEnvInt("ALLOWED_MAX_FILE_SIZE", 10),
		AllowedFileExt:      GetEnvList("ALLOWED_FILE_EXT", []string{".jpg", ".jpeg", ".png", ".pdf"}),
	}
	return c
}

// Validate checks the provider choices and their credentials.
func (c *Config) Validate() error {
	switch c.DiagnosisProvider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown DIAGNOSIS_PROVIDER %q", c.DiagnosisProvider)
	}
	if !c.DiagnosisDryRun && c.DiagnosisKey() == "" {
		return fmt.Errorf("missing API key for diagnosis provider %s", c.DiagnosisProvider)
	}
	switch c.OCREngine {
	case "tesseract":
	case "openai":
		if c.OCROpenAIKey == "" {
			return fmt.Errorf("OCR_ENGINE=openai needs OCR_OPENAI_KEY or OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q", c.OCREngine)
	}
	return nil
}

// DiagnosisKey returns the API key of the selected diagnosis provider.
func (c *Config) DiagnosisKey() string {
	switch c.DiagnosisProvider {
	case "openai":
		return c.OpenAIKey
	case "anthropic":
		return c.AnthropicKey
	case "gemini":
		return c.GeminiKey
	}
	return ""
}

// MaxUploadBytes is the per-file limit in bytes.
func (c *Config) MaxUploadBytes() int {
	return c.AllowedMaxFileSize * 1024 * 1024
}

func GetEnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func GetEnvList(k string, d []string) []string {
	if v := os.Getenv(k); v != "" {
		return split(v)
	}
	return d
}

func get(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing env %s", k)
	}
	return v
}
func atoi(s string) int       { i, _ := strconv.Atoi(s); return i }
func parseBool(s string) bool { b, _ := strconv.ParseBool(s); return b }
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration %q: %v", s, err)
	}
	return d
}
func split(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func GetEnv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}
