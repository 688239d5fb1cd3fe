package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/telemetry"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Gemini struct {
	Key, Model string
	BaseURL    string
	HTTPClient *http.Client
	DryRun     bool
}

func (c *Gemini) Name() SourceName { return SourceGemini }

func (c *Gemini) Diagnose(ctx context.Context, prompt string) (Diagnosis, error) {
	log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
	if c.DryRun {
		log.Info().Msg("gemini_dry_run_enabled")
		return dryRun(c.Name(), prompt), nil
	}

	body := map[string]any{
		"contents": []any{
			map[string]any{
				"role": "user",
				"parts": []any{
					map[string]string{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": defaultMaxTokens,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("gemini marshal", err)
	}
	log.Debug().Int("body_len", len(b)).Msg("gemini_request")

	url := fmt.Sprintf("%s/models/%s:generateContent", baseURL(c.BaseURL, geminiBaseURL), c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("gemini request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", c.Key)

	t0 := time.Now()
	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		log.Error().Err(err).Msg("gemini_request_failed")
		return Diagnosis{}, apperr.DiagnosisAPI("gemini", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	log.Debug().Int("status_code", resp.StatusCode).Int("body_len", len(raw)).Msg("gemini_response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("status", resp.Status).Msg("gemini_http_error")
		return Diagnosis{}, apperr.DiagnosisAPI("gemini", errors.New("http "+resp.Status))
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback *struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
		UsageMetadata map[string]any `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("gemini decode", err)
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return Diagnosis{}, apperr.DiagnosisAPI("gemini blocked: "+out.PromptFeedback.BlockReason, nil)
	}

	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Diagnosis{}, apperr.DiagnosisAPI("gemini empty candidates", nil)
	}

	return Diagnosis{
		Source:     c.Name(),
		Text:       text.String(),
		LatencyMs:  int(time.Since(t0) / time.Millisecond),
		TokenUsage: out.UsageMetadata,
	}, nil
}
