package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
)

// Whitelist is the only character set the pipeline cares about. Engines are
// configured (or post-filtered) to emit nothing outside it.
const Whitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLanguage drives the engine's text segmentation model.
const DefaultLanguage = "spa"

// Result is the output of one recognition call.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // percentage, 0-100
}

// Engine is a single-use OCR capability. An instance is scoped to one
// Recognize call and must be closed after use regardless of outcome.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (*Result, error)
	Close() error
}

// Factory builds a fresh Engine per recognition call so that resources
// (external processes, API clients) never outlive a single capture.
type Factory func() (Engine, error)

// NewFactory selects the engine implementation from configuration.
func NewFactory(cfg models.OCRConfig) (Factory, error) {
	language := cfg.Language
	if language == "" {
		language = DefaultLanguage
	}

	switch cfg.Engine {
	case "", "tesseract":
		return func() (Engine, error) {
			return NewTesseractEngine(language), nil
		}, nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, errors.New("openai engine requires an api key")
		}
		return func() (Engine, error) {
			return NewOpenAIEngine(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
		}, nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("gemini engine requires an api key")
		}
		return func() (Engine, error) {
			return NewGeminiEngine(cfg.Gemini.APIKey, cfg.Gemini.Model)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported OCR engine: %s", cfg.Engine)
	}
}

// filterWhitelist drops every rune outside the whitelist, keeping spaces and
// newlines so word boundaries survive for downstream extraction.
func filterWhitelist(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToUpper(text) {
		if r == ' ' || r == '\n' || strings.ContainsRune(Whitelist, r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// clampConfidence normalizes engine confidence values to the [0,100] scale.
// Engines reporting [0,1] ratios are scaled up.
func clampConfidence(c float64) float64 {
	if c > 0 && c <= 1 {
		c *= 100
	}
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
