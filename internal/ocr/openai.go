package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const visionPrompt = `Eres un motor OCR. Transcribe TODO el texto visible en la imagen.
Restricciones:
- Devuelve SOLO caracteres A-Z mayusculas, digitos 0-9 y espacios.
- No traduzcas, no interpretes, no agregues comentarios.
- Estima tu confianza de lectura como porcentaje entero 0-100.

Devuelve SOLO JSON valido (sin markdown):
{"text": "TEXTO RECONOCIDO", "confidence": 90}`

// OpenAIEngine performs OCR through an OpenAI-compatible vision model.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// NewOpenAIEngine creates a single-use vision OCR engine. baseURL may point
// at a compatible proxy; empty means the public API.
func NewOpenAIEngine(apiKey, baseURL, model string) *OpenAIEngine {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (e *OpenAIEngine) Recognize(ctx context.Context, image []byte) (*Result, error) {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     e.model,
		MaxTokens: 300,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return parseEngineResponse(resp.Choices[0].Message.Content)
}

// Close is a no-op: the underlying HTTP client holds no per-call resources,
// but the Engine contract requires release on every path.
func (e *OpenAIEngine) Close() error {
	return nil
}

// parseEngineResponse decodes the strict-JSON reply the vision prompt asks
// for, tolerating markdown fences the models sometimes add anyway.
func parseEngineResponse(response string) (*Result, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var raw struct {
		Text       string      `json:"text"`
		Confidence interface{} `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("invalid engine response: %w - %s", err, cleaned)
	}

	var confidence float64
	switch v := raw.Confidence.(type) {
	case float64:
		confidence = v
	case string:
		fmt.Sscanf(v, "%f", &confidence)
	}

	return &Result{
		Text:       filterWhitelist(raw.Text),
		Confidence: clampConfidence(confidence),
	}, nil
}
