package models

// Config represents the gateway configuration, loaded from config.yaml with
// environment-variable overrides applied in cmd/server.
type Config struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	OCR     OCRConfig     `yaml:"ocr"`
	Camera  CameraConfig  `yaml:"camera"`
	Geo     GeoConfig     `yaml:"geo"`
	Lookup  LookupConfig  `yaml:"lookup"`
	Session SessionConfig `yaml:"session"`
}

// OCRConfig selects and configures the OCR engine.
type OCRConfig struct {
	Engine   string `yaml:"engine"`   // "tesseract", "openai" or "gemini"
	Language string `yaml:"language"` // text segmentation model, default "spa"

	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OpenAIConfig for OpenAI-compatible vision OCR.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// GeminiConfig for Gemini vision OCR.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// CameraConfig points at the field unit's networked snapshot camera.
type CameraConfig struct {
	SnapshotURL    string `yaml:"snapshot_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GeoConfig configures the best-effort position source.
type GeoConfig struct {
	Mode      string  `yaml:"mode"` // "none", "static" or "http"
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	URL       string  `yaml:"url"`
}

// LookupConfig points at the vehicle-record backend.
type LookupConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SessionConfig controls capture session lifetimes.
type SessionConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}
