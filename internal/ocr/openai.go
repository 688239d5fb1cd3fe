package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/img"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/telemetry"
)

const openAIBaseURL = "https://api.openai.com/v1"

const visionInstruction = "Extract plain text (OCR) from this lab report. Return ONLY the raw text, one printed line per line, no explanation."

// OpenAIVision reads text with a hosted vision model. Calls are rate limited
// and never retried.
type OpenAIVision struct {
	Key, Model string
	BaseURL    string
	Quality    int
	Client     *http.Client
	Limiter    *rate.Limiter
}

func NewOpenAIVision(key, model string, rps, burst, quality int) *OpenAIVision {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 2
	}
	return &OpenAIVision{
		Key:     key,
		Model:   model,
		BaseURL: openAIBaseURL,
		Quality: quality,
		Client:  &http.Client{Timeout: 60 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (o *OpenAIVision) Name() string { return "openai-vision" }

func (o *OpenAIVision) Lines(ctx context.Context, page model.PageImage) ([]string, error) {
	if err := img.CheckBounds(page.Image); err != nil {
		return nil, err
	}
	jpg, err := img.EncodeJPEG(page.Image, o.Quality)
	if err != nil {
		return nil, apperr.InvalidImage("encode jpeg", err)
	}
	if err := o.Limiter.Wait(ctx); err != nil {
		return nil, apperr.OCREngine("openai vision rate limit", err)
	}

	dataURL := "data:" + model.MediaJPEG + ";base64," + base64.StdEncoding.EncodeToString(jpg)
	payload := map[string]any{
		"model": o.Model,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]string{"type": "text", "text": visionInstruction},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
				},
			},
		},
		"temperature": 0.0,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.OCREngine("openai vision marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(o.BaseURL, "/")+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, apperr.OCREngine("openai vision request", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.Key)
	req.Header.Set("Content-Type", "application/json")

	log := telemetry.L().With().Str("provider", o.Name()).Int("page", page.Number).Logger()
	start := time.Now()
	resp, err := o.Client.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("ocr_request_failed")
		return nil, apperr.OCREngine("openai vision", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("ocr_http_error")
		return nil, apperr.OCREngine("openai vision", errors.New("http "+resp.Status))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.OCREngine("openai vision decode", err)
	}
	if len(out.Choices) == 0 {
		return nil, apperr.OCREngine("openai vision: empty choices", nil)
	}

	lines := SplitLines(out.Choices[0].Message.Content)
	log.Debug().Int("latency_ms", int(time.Since(start)/time.Millisecond)).Int("lines", len(lines)).Msg("ocr_ok")
	return lines, nil
}
