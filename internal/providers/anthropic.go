package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/telemetry"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

type Anthropic struct {
	Key, Model string
	BaseURL    string
	HTTPClient *http.Client
	DryRun     bool
}

func (c *Anthropic) Name() SourceName { return SourceClaude }

func (c *Anthropic) Diagnose(ctx context.Context, prompt string) (Diagnosis, error) {
	log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
	if c.DryRun {
		log.Info().Msg("anthropic_dry_run_enabled")
		return dryRun(c.Name(), prompt), nil
	}

	body := map[string]any{
		"model":      c.Model,
		"max_tokens": defaultMaxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("anthropic marshal", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(c.BaseURL, anthropicBaseURL)+"/messages", bytes.NewReader(b))
	if err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("anthropic request", err)
	}
	req.Header.Set("x-api-key", c.Key)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		log.Error().Err(err).Msg("anthropic_request_failed")
		return Diagnosis{}, apperr.DiagnosisAPI("anthropic", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("status", resp.Status).Msg("anthropic_http_error")
		return Diagnosis{}, apperr.DiagnosisAPI("anthropic", errors.New("http "+resp.Status))
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("anthropic decode", err)
	}

	var text strings.Builder
	for _, part := range out.Content {
		if part.Type == "" || part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Diagnosis{}, apperr.DiagnosisAPI("anthropic empty content", nil)
	}

	return Diagnosis{
		Source:     c.Name(),
		Text:       text.String(),
		LatencyMs:  int(time.Since(t0) / time.Millisecond),
		TokenUsage: out.Usage,
	}, nil
}
