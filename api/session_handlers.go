package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/TheDamage/gestion-policial-fullstack/internal/auth"
	"github.com/TheDamage/gestion-policial-fullstack/internal/capture"
	"github.com/TheDamage/gestion-policial-fullstack/internal/db"
	"github.com/TheDamage/gestion-policial-fullstack/internal/lookup"
	"github.com/TheDamage/gestion-policial-fullstack/internal/storage"
)

// CreateSession - POST /api/carinfo/sesiones
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	session := h.registry.Create(claims.UserID)
	h.sendJSON(w, http.StatusCreated, session.Snapshot())
}

// GetSession - GET /api/carinfo/sesiones/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, session.Snapshot())
}

// StartCamera - POST /api/carinfo/sesiones/{id}/camara
func (h *Handler) StartCamera(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.StartCamera(r.Context()); err != nil {
		h.sendSessionError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, session.Snapshot())
}

// CapturePhoto - POST /api/carinfo/sesiones/{id}/foto
func (h *Handler) CapturePhoto(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.CapturePhoto(r.Context()); err != nil {
		h.sendSessionError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, session.Snapshot())
}

// UploadImage - POST /api/carinfo/sesiones/{id}/imagen
// Accepts multipart form field "imagen" or a raw image body.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

	image, err := readImage(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "INVALID_INPUT", "no se pudo leer la imagen")
		return
	}

	if err := session.SelectFile(r.Context(), image); err != nil {
		h.sendSessionError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, session.Snapshot())
}

func readImage(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(MaxUploadSize); err == nil {
		file, _, err := r.FormFile("imagen")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

// SubmitLookupRequest is the confirm-and-consult body
type SubmitLookupRequest struct {
	Patente string `json:"patente"`
}

// SubmitLookup - POST /api/carinfo/sesiones/{id}/consultar
func (h *Handler) SubmitLookup(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SubmitLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "INVALID_INPUT", "cuerpo de solicitud inválido")
		return
	}

	token := auth.GetTokenFromContext(r.Context())
	result, err := session.SubmitLookup(r.Context(), token, req.Patente)
	if err != nil {
		h.sendSessionError(w, err)
		return
	}

	go h.recordConsulta(session, result)

	h.sendJSON(w, http.StatusOK, session.Snapshot())
}

// recordConsulta persists the consultation trail entry and the evidence
// image. Both are best-effort: a storage outage never fails the lookup the
// officer already got.
func (h *Handler) recordConsulta(session *capture.Session, result *lookup.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	snap := session.Snapshot()

	var imageURL string
	if image := session.RawImage(); len(image) > 0 && storage.Client != nil {
		url, err := storage.UploadCaptureImage(ctx, session.UserID, image)
		if err != nil {
			h.log.Warn().Err(err).Str("session_id", snap.ID).Msg("evidence image upload failed")
		} else {
			imageURL = url
		}
	}

	if db.Pool == nil {
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", snap.ID).Msg("consultation result not serializable")
		return
	}

	consulta := &db.Consulta{
		UserID:         session.UserID,
		Patente:        snap.Plate,
		OCRConfidence:  snap.Confidence,
		EstadoVehiculo: result.Status,
		ImagenURL:      imageURL,
		Resultado:      string(resultJSON),
	}
	if snap.Coordinates != nil {
		consulta.GPSLat = &snap.Coordinates.Latitude
		consulta.GPSLon = &snap.Coordinates.Longitude
	}

	if err := db.SaveConsulta(ctx, consulta); err != nil {
		h.log.Warn().Err(err).Str("session_id", snap.ID).Msg("consultation trail save failed")
	}
}

// ResetSession - POST /api/carinfo/sesiones/{id}/reiniciar
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.Reset()
	h.sendJSON(w, http.StatusOK, session.Snapshot())
}

// DeleteSession - DELETE /api/carinfo/sesiones/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.registry.Remove(session.ID.String())
	h.sendJSON(w, http.StatusOK, map[string]string{"id": session.ID.String()})
}

// GetConsultas - GET /api/carinfo/consultas
func (h *Handler) GetConsultas(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if db.Pool == nil {
		h.sendError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "historial de consultas no disponible")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	consultas, err := db.ListConsultas(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("consultation trail query failed")
		h.sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "error consultando historial")
		return
	}
	if consultas == nil {
		consultas = []db.Consulta{}
	}

	// Stored paths are MinIO object names; the client needs viewable links.
	if storage.Client != nil {
		for i := range consultas {
			if consultas[i].ImagenURL == "" {
				continue
			}
			url, err := storage.GetPresignedURL(r.Context(), consultas[i].ImagenURL)
			if err != nil {
				h.log.Warn().Err(err).Str("object", consultas[i].ImagenURL).Msg("presigned URL generation failed")
				continue
			}
			consultas[i].ImagenURL = url
		}
	}

	h.sendJSON(w, http.StatusOK, consultas)
}

// session resolves the {id} path variable to a session owned by the caller.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*capture.Session, bool) {
	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return nil, false
	}

	id := mux.Vars(r)["id"]
	session, err := h.registry.Get(id, claims.UserID)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "sesión no encontrada")
		return nil, false
	}
	return session, true
}

// sendSessionError maps pipeline errors to HTTP codes. Clients drive their
// fallback flows off the code: CAMERA_UNAVAILABLE switches to file upload,
// OCR_FAILED re-shows the capture stage, INVALID_STAGE means refresh the
// snapshot.
func (h *Handler) sendSessionError(w http.ResponseWriter, err error) {
	var failure *lookup.Failure
	switch {
	case errors.As(err, &failure):
		status := http.StatusUnprocessableEntity
		if failure.Code == "SERVICE_UNAVAILABLE" {
			status = http.StatusBadGateway
		}
		h.sendError(w, status, failure.Code, failure.Message)
	case errors.Is(err, capture.ErrCameraUnavailable):
		h.sendError(w, http.StatusServiceUnavailable, "CAMERA_UNAVAILABLE", "No se pudo acceder a la cámara")
	case errors.Is(err, capture.ErrOCRProcessing):
		h.sendError(w, http.StatusUnprocessableEntity, "OCR_FAILED", "Error procesando OCR")
	case errors.Is(err, capture.ErrInvalidInput):
		h.sendError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, capture.ErrInvalidStage):
		h.sendError(w, http.StatusConflict, "INVALID_STAGE", err.Error())
	case errors.Is(err, capture.ErrStaleSession):
		h.sendError(w, http.StatusConflict, "SESSION_RESET", "la sesión fue reiniciada")
	default:
		h.log.Error().Err(err).Msg("unhandled session error")
		h.sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "error interno")
	}
}
