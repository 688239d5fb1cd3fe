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

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAI struct {
	Key, Model string
	BaseURL    string
	HTTPClient *http.Client
	DryRun     bool
}

func (c *OpenAI) Name() SourceName { return SourceOpenAI }

func (c *OpenAI) Diagnose(ctx context.Context, prompt string) (Diagnosis, error) {
	log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
	if c.DryRun {
		log.Info().Msg("openai_dry_run_enabled")
		return dryRun(c.Name(), prompt), nil
	}

	body := map[string]any{
		"model":             c.Model,
		"input":             prompt,
		"temperature":       0.2,
		"max_output_tokens": defaultMaxTokens,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("openai marshal", err)
	}
	log.Debug().Int("body_len", len(b)).Msg("openai_request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(c.BaseURL, openAIBaseURL)+"/responses", bytes.NewReader(b))
	if err != nil {
		return Diagnosis{}, apperr.DiagnosisAPI("openai request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Key)
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		log.Error().Err(err).Msg("openai_request_failed")
		return Diagnosis{}, apperr.DiagnosisAPI("openai", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	log.Debug().Int("body_len", len(raw)).Msg("openai_response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("status", resp.Status).Msg("openai_http_error")
		return Diagnosis{}, apperr.DiagnosisAPI("openai", errors.New("http "+resp.Status))
	}

	text := extractOpenAIText(raw)
	if strings.TrimSpace(text) == "" {
		return Diagnosis{}, apperr.DiagnosisAPI("openai: empty text", nil)
	}

	d := Diagnosis{
		Source:    c.Name(),
		Text:      text,
		LatencyMs: int(time.Since(t0) / time.Millisecond),
	}
	var u struct {
		Usage map[string]any `json:"usage"`
	}
	if json.Unmarshal(raw, &u) == nil && u.Usage != nil {
		d.TokenUsage = u.Usage
	}
	return d, nil
}

// get text from Responses API or fallback Chat Completions.
func extractOpenAIText(raw []byte) string {
	var r1 struct {
		OutputText string `json:"output_text"`
	}
	if json.Unmarshal(raw, &r1) == nil && strings.TrimSpace(r1.OutputText) != "" {
		return r1.OutputText
	}

	// output[].content[].text, message items only
	var r2 struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if json.Unmarshal(raw, &r2) == nil && len(r2.Output) > 0 {
		var b strings.Builder
		for _, o := range r2.Output {
			if o.Type != "" && o.Type != "message" {
				continue
			}
			for _, c := range o.Content {
				b.WriteString(c.Text)
			}
		}
		if strings.TrimSpace(b.String()) != "" {
			return b.String()
		}
	}

	var r3 struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if json.Unmarshal(raw, &r3) == nil && len(r3.Choices) > 0 {
		return r3.Choices[0].Message.Content
	}

	return ""
}
