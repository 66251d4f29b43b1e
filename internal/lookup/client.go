package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheDamage/gestion-policial-fullstack/internal/geo"
	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
)

// Vehicle is the registry's description of the plated vehicle.
type Vehicle struct {
	Patente string `json:"patente"`
	Marca   string `json:"marca"`
	Modelo  string `json:"modelo"`
	Anio    int    `json:"anio"`
	Color   string `json:"color"`
	Tipo    string `json:"tipo"`
}

// Owner is the registered titleholder.
type Owner struct {
	DNI       string `json:"dni"`
	Nombre    string `json:"nombre"`
	Apellido  string `json:"apellido"`
	Domicilio string `json:"domicilio"`
}

// Result is a successful lookup: vehicle, owner, the registry's status flag
// (normal, inhibido, retenido, robado) and the actions the officer may take.
type Result struct {
	ConsultaID string   `json:"consulta_id"`
	Patente    string   `json:"patente"`
	Vehicle    Vehicle  `json:"vehiculo"`
	Owner      Owner    `json:"titular"`
	Status     string   `json:"estado_vehiculo"`
	Actions    []string `json:"opciones"`
}

// Failure is a structured rejection reported by the registry backend. It is
// an error so handlers can branch on it exhaustively.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Request is one plate lookup. Coordinates are optional and best-effort.
type Request struct {
	Plate  string
	Coords *geo.Coordinates
}

// Client consumes the vehicle-record backend. It owns no retry policy:
// retries are user-driven from the confirmation stage.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a lookup client from configuration.
func NewClient(cfg models.LookupConfig, log zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// wireRequest matches the backend's consultar contract.
type wireRequest struct {
	Patente string   `json:"patente"`
	GPSLat  *float64 `json:"gps_lat,omitempty"`
	GPSLon  *float64 `json:"gps_lon,omitempty"`
}

// wireResponse is the backend's standard envelope.
type wireResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Failure        `json:"error,omitempty"`
}

// Lookup submits the plate and authorization token to the registry and maps
// the loosely-typed envelope into either a Result or a *Failure error. Any
// transport problem is reported as a SERVICE_UNAVAILABLE failure so callers
// have a single error shape to surface.
func (c *Client) Lookup(ctx context.Context, token string, req Request) (*Result, error) {
	wire := wireRequest{Patente: req.Plate}
	if req.Coords != nil {
		wire.GPSLat = &req.Coords.Latitude
		wire.GPSLon = &req.Coords.Longitude
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &Failure{Code: "INTERNAL", Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/carinfo/consultar", bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Code: "INTERNAL", Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Error().Err(err).Str("patente", req.Plate).Msg("lookup backend unreachable")
		return nil, &Failure{Code: "SERVICE_UNAVAILABLE", Message: "no se pudo contactar el servicio de consultas"}
	}
	defer resp.Body.Close()

	var envelope wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.log.Error().Err(err).Int("status", resp.StatusCode).Msg("lookup backend returned malformed response")
		return nil, &Failure{Code: "SERVICE_UNAVAILABLE", Message: "respuesta inválida del servicio de consultas"}
	}

	if !envelope.Success || resp.StatusCode >= 400 {
		failure := envelope.Error
		if failure == nil {
			failure = &Failure{Code: "SERVICE_UNAVAILABLE", Message: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		return nil, failure
	}

	var result Result
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return nil, &Failure{Code: "SERVICE_UNAVAILABLE", Message: "respuesta inválida del servicio de consultas"}
	}

	c.log.Info().
		Str("patente", req.Plate).
		Str("estado", result.Status).
		Str("consulta_id", result.ConsultaID).
		Msg("vehicle lookup completed")

	return &result, nil
}
