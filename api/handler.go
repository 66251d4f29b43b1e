package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/TheDamage/gestion-policial-fullstack/internal/auth"
	"github.com/TheDamage/gestion-policial-fullstack/internal/capture"
	"github.com/TheDamage/gestion-policial-fullstack/internal/db"
	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
	"github.com/TheDamage/gestion-policial-fullstack/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "1.3.0"

	PermConsultar = "carinfo.consultar"
)

// Handler handles the capture gateway's HTTP requests
type Handler struct {
	config   *models.Config
	registry *capture.Registry
	log      zerolog.Logger
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, registry *capture.Registry, log zerolog.Logger) *Handler {
	return &Handler{
		config:   config,
		registry: registry,
		log:      log,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Health check (public)
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	// Capture sessions
	api.HandleFunc("/carinfo/sesiones", auth.RequirePermission(PermConsultar, h.CreateSession)).Methods("POST")
	api.HandleFunc("/carinfo/sesiones/{id}", auth.RequirePermission(PermConsultar, h.GetSession)).Methods("GET")
	api.HandleFunc("/carinfo/sesiones/{id}/camara", auth.RequirePermission(PermConsultar, h.StartCamera)).Methods("POST")
	api.HandleFunc("/carinfo/sesiones/{id}/foto", auth.RequirePermission(PermConsultar, h.CapturePhoto)).Methods("POST")
	api.HandleFunc("/carinfo/sesiones/{id}/imagen", auth.RequirePermission(PermConsultar, h.UploadImage)).Methods("POST")
	api.HandleFunc("/carinfo/sesiones/{id}/consultar", auth.RequirePermission(PermConsultar, h.SubmitLookup)).Methods("POST")
	api.HandleFunc("/carinfo/sesiones/{id}/reiniciar", auth.RequirePermission(PermConsultar, h.ResetSession)).Methods("POST")
	api.HandleFunc("/carinfo/sesiones/{id}", auth.RequirePermission(PermConsultar, h.DeleteSession)).Methods("DELETE")

	// Consultation trail
	api.HandleFunc("/carinfo/consultas", auth.RequirePermission(PermConsultar, h.GetConsultas)).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string        `json:"status"`
	Version     string        `json:"version"`
	Timestamp   string        `json:"timestamp"`
	Uptime      string        `json:"uptime"`
	Memory      MemoryStats   `json:"memory"`
	Tesseract   ServiceStatus `json:"tesseract"`
	ImageMagick ServiceStatus `json:"imageMagick"`
	Database    ServiceStatus `json:"database"`
	Storage     ServiceStatus `json:"storage"`
	OCREngine   string        `json:"ocrEngine"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tesseractStatus := h.checkTesseract()

	// An empty engine string selects tesseract in ocr.NewFactory.
	engine := h.config.OCR.Engine
	if engine == "" {
		engine = "tesseract"
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract:   tesseractStatus,
		ImageMagick: h.checkImageMagick(),
		Database:    h.checkDatabase(),
		Storage:     h.checkStorage(),
		OCREngine:   engine,
	}

	// Tesseract is only critical when it is the configured engine
	if engine == "tesseract" && !tesseractStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkTesseract verifies Tesseract OCR is available
func (h *Handler) checkTesseract() ServiceStatus {
	cmd := exec.Command("tesseract", "--version")
	output, err := cmd.CombinedOutput()

	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     "tesseract not found or not executable",
		}
	}

	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}

	return ServiceStatus{
		Available: true,
		Version:   version,
	}
}

// checkImageMagick verifies ImageMagick is available
func (h *Handler) checkImageMagick() ServiceStatus {
	cmd := exec.Command("convert", "-version")
	output, err := cmd.CombinedOutput()

	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     "imagemagick not found or not executable",
		}
	}

	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}

	return ServiceStatus{
		Available: true,
		Version:   version,
	}
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase() ServiceStatus {
	if db.Pool == nil {
		return ServiceStatus{
			Available: false,
			Error:     "database pool not initialized",
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "PostgreSQL via PgBouncer",
	}
}

// checkStorage verifies MinIO connection
func (h *Handler) checkStorage() ServiceStatus {
	if storage.Client == nil {
		return ServiceStatus{
			Available: false,
			Error:     "storage client not initialized",
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "MinIO S3",
	}
}

// sendJSON wraps payload in the platform success envelope
func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    payload,
	})
}

// sendError sends the platform error envelope
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
