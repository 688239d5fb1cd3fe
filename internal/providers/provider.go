package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/emandor/labscan_service/internal/config"
)

// Diagnosis is the model's formatted summary, kept verbatim.
type Diagnosis struct {
	Source     SourceName     `json:"source"`
	Text       string         `json:"text"`
	LatencyMs  int            `json:"latency_ms,omitempty"`
	TokenUsage map[string]any `json:"token_usage,omitempty"`
}

type SourceName string

const (
	SourceOpenAI SourceName = "OPENAI"
	SourceClaude SourceName = "CLAUDE"
	SourceGemini SourceName = "GEMINI"
)

// Client turns a prompt into a diagnosis. One call per request, no retries.
type Client interface {
	Name() SourceName
	Diagnose(ctx context.Context, prompt string) (Diagnosis, error)
}

const defaultMaxTokens = 2048

// FromConfig builds the diagnosis client selected by DIAGNOSIS_PROVIDER.
func FromConfig(cfg *config.Config) (Client, error) {
	switch strings.ToLower(cfg.DiagnosisProvider) {
	case "gemini":
		return &Gemini{Key: cfg.GeminiKey, Model: cfg.GeminiModel, DryRun: cfg.DiagnosisDryRun}, nil
	case "openai":
		return &OpenAI{Key: cfg.OpenAIKey, Model: cfg.OpenAIModel, DryRun: cfg.DiagnosisDryRun}, nil
	case "anthropic":
		return &Anthropic{Key: cfg.AnthropicKey, Model: cfg.AnthropicModel, DryRun: cfg.DiagnosisDryRun}, nil
	}
	return nil, fmt.Errorf("unknown diagnosis provider %q", cfg.DiagnosisProvider)
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

func baseURL(v, d string) string {
	if v == "" {
		return d
	}
	return strings.TrimRight(v, "/")
}

// dryRun answers without calling the network, for local development.
func dryRun(source SourceName, prompt string) Diagnosis {
	return Diagnosis{
		Source:    source,
		Text:      DryRunText,
		LatencyMs: 1,
		TokenUsage: map[string]any{
			"prompt_tokens":     len(strings.Fields(prompt)),
			"completion_tokens": len(strings.Fields(DryRunText)),
		},
	}
}

const DryRunText = `## Disease / Condition
- Simulated result (dry run)
- No model was called.

## Precautions
- n/a

## Diet Plan
- n/a

## Exercise Plan
- n/a
`
