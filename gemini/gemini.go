// Package gemini wraps the Gemini API for recommendation and prompt
// generation. Calls walk the configured model chain and return the first
// non-empty completion.
package gemini

import (
	"context"
	"fmt"
	"strings"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"cratebot/config"
	"cratebot/fallback"
)

type Client struct {
	genai *genai.Client
	cfg   config.GeminiConfig
}

func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{genai: client, cfg: cfg}, nil
}

// relaxedSafety loosens the default filters; track titles and cover prompts
// routinely trip them otherwise.
func relaxedSafety() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}

// GenerateList asks for a strict JSON array of strings. The schema constrains
// capable models; ParseTrackList still treats the output defensively.
func (c *Client) GenerateList(ctx context.Context, prompt string) (string, string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.temperature()),
		SafetySettings:   relaxedSafety(),
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	}
	return c.generate(ctx, prompt, cfg)
}

// GenerateText asks for plain prose (image descriptions, title summaries).
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(c.temperature()),
		SafetySettings: relaxedSafety(),
	}
	return c.generate(ctx, prompt, cfg)
}

func (c *Client) generate(ctx context.Context, prompt string, genCfg *genai.GenerateContentConfig) (string, string, error) {
	runner := fallback.Runner[string]{
		Candidates: c.cfg.Models,
		Empty:      func(s string) bool { return strings.TrimSpace(s) == "" },
	}

	res, err := runner.Run(ctx, func(ctx context.Context, model string) (string, error) {
		span := sentry.StartSpan(ctx, "gemini.generate")
		span.Description = "Generate content via Gemini"
		span.SetTag("model", model)
		defer span.Finish()

		resp, err := c.genai.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
		if err != nil {
			span.Status = sentry.SpanStatusInternalError
			return "", fmt.Errorf("gemini: %s: %w", model, err)
		}

		span.Status = sentry.SpanStatusOK
		return resp.Text(), nil
	})
	if err != nil {
		sentry.CaptureException(err)
		return "", "", err
	}

	log.Debugf("Gemini responded via %s (%d chars)", res.ModelUsed, len(res.Value))
	return res.Value, res.ModelUsed, nil
}

func (c *Client) temperature() float32 {
	if c.cfg.Temperature == 0 {
		return 1.2
	}
	return c.cfg.Temperature
}
