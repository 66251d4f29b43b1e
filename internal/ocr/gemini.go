package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEngine performs OCR through Google's Gemini vision models.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

// NewGeminiEngine creates a single-use Gemini OCR engine. The client is
// created eagerly so a bad key fails at acquisition, not mid-pipeline.
func NewGeminiEngine(apiKey, model string) (*GeminiEngine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiEngine{client: client, model: model}, nil
}

func (e *GeminiEngine) Recognize(ctx context.Context, image []byte) (*Result, error) {
	model := e.client.GenerativeModel(e.model)

	resp, err := model.GenerateContent(ctx,
		genai.ImageData("jpeg", image),
		genai.Text(visionPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini vision request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return parseEngineResponse(b.String())
}

// Close releases the underlying gRPC connection.
func (e *GeminiEngine) Close() error {
	return e.client.Close()
}
