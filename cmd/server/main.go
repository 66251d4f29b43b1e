package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/TheDamage/gestion-policial-fullstack/api"
	"github.com/TheDamage/gestion-policial-fullstack/internal/auth"
	"github.com/TheDamage/gestion-policial-fullstack/internal/capture"
	"github.com/TheDamage/gestion-policial-fullstack/internal/db"
	"github.com/TheDamage/gestion-policial-fullstack/internal/geo"
	"github.com/TheDamage/gestion-policial-fullstack/internal/lookup"
	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
	"github.com/TheDamage/gestion-policial-fullstack/internal/ocr"
	"github.com/TheDamage/gestion-policial-fullstack/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Initialize JWT
	auth.Init()
	logger.Info().Msg("JWT authentication initialized")

	// Database is optional: without it the gateway runs capture-only
	if err := db.Init(); err != nil {
		logger.Warn().Err(err).Msg("database not available, consultation trail disabled")
	} else {
		defer db.Close()
	}

	// MinIO is optional: without it evidence images are not stored
	if err := storage.Init(); err != nil {
		logger.Warn().Err(err).Msg("MinIO storage not available, evidence images will not be stored")
	} else {
		logger.Info().Msg("MinIO storage initialized")
	}

	// Load configuration
	config, err := loadConfig("config.yaml")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	engineFactory, err := ocr.NewFactory(config.OCR)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure OCR engine")
	}

	preprocessor := ocr.NewPreprocessor(logger)

	deps := capture.Deps{
		Engine:     engineFactory,
		Preprocess: preprocessor.Enhance,
		Locator:    geo.NewLocator(config.Geo),
		Lookup:     lookup.NewClient(config.Lookup, logger),
		Log:        logger,
	}
	if camera := capture.NewHTTPCamera(config.Camera); camera != nil {
		deps.Camera = camera
	}

	registry := capture.NewRegistry(deps, time.Duration(config.Session.TTLMinutes)*time.Minute, logger)
	defer registry.Shutdown()

	handler := api.NewHandler(config, registry, logger)
	router := handler.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	logger.Info().
		Str("addr", addr).
		Str("ocr_engine", config.OCR.Engine).
		Bool("camera", deps.Camera != nil).
		Bool("database", db.Pool != nil).
		Bool("storage", storage.Client != nil).
		Str("lookup_backend", config.Lookup.BaseURL).
		Msg("starting plate capture gateway")

	if err := http.ListenAndServe(addr, router); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func loadConfig(path string) (*models.Config, error) {
	config := &models.Config{
		Port: 8080,
		Host: "0.0.0.0",
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if engine := os.Getenv("OCR_ENGINE"); engine != "" {
		config.OCR.Engine = engine
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.OCR.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.OCR.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.OCR.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.OCR.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.OCR.Gemini.Model = model
	}
	if url := os.Getenv("CAMERA_SNAPSHOT_URL"); url != "" {
		config.Camera.SnapshotURL = url
	}
	if baseURL := os.Getenv("LOOKUP_BASE_URL"); baseURL != "" {
		config.Lookup.BaseURL = baseURL
	}

	return config, nil
}
