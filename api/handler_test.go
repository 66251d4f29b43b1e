package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheDamage/gestion-policial-fullstack/internal/auth"
	"github.com/TheDamage/gestion-policial-fullstack/internal/capture"
	"github.com/TheDamage/gestion-policial-fullstack/internal/geo"
	"github.com/TheDamage/gestion-policial-fullstack/internal/lookup"
	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
	"github.com/TheDamage/gestion-policial-fullstack/internal/ocr"
)

type fixedEngine struct {
	result ocr.Result
}

func (e *fixedEngine) Recognize(ctx context.Context, image []byte) (*ocr.Result, error) {
	r := e.result
	return &r, nil
}

func (e *fixedEngine) Close() error { return nil }

// fakeBackend serves the platform lookup envelope.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Patente string `json:"patente"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")

		if body.Patente == "ZZZ999" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   map[string]string{"code": "NOT_FOUND", "message": "Patente no registrada"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"patente":         body.Patente,
				"estado_vehiculo": "normal",
				"opciones":        []string{"dejar_circular"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T, engineResult ocr.Result) *httptest.Server {
	t.Helper()
	auth.Init()

	backend := fakeBackend(t)
	deps := capture.Deps{
		Engine:  func() (ocr.Engine, error) { return &fixedEngine{result: engineResult}, nil },
		Locator: geo.NopLocator{},
		Lookup:  lookup.NewClient(models.LookupConfig{BaseURL: backend.URL}, zerolog.Nop()),
		Log:     zerolog.Nop(),
	}
	registry := capture.NewRegistry(deps, time.Minute, zerolog.Nop())
	t.Cleanup(registry.Shutdown)

	cfg := &models.Config{OCR: models.OCRConfig{Engine: "openai"}}
	handler := NewHandler(cfg, registry, zerolog.Nop())
	srv := httptest.NewServer(handler.SetupRoutes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token, contentType string, body []byte) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func agentToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("agente-7", "Ana Gómez", "agente", []string{PermConsultar})
	require.NoError(t, err)
	return token
}

func TestCaptureFlow_UploadConfirmConsult(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "abc123", Confidence: 91})
	token := agentToken(t)

	// Create session
	resp, env := do(t, http.MethodPost, srv.URL+"/api/carinfo/sesiones", token, "application/json", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var snap capture.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, capture.StageCapturing, snap.Stage)
	sessionURL := srv.URL + "/api/carinfo/sesiones/" + snap.ID

	// Upload image, OCR runs
	resp, env = do(t, http.MethodPost, sessionURL+"/imagen", token, "image/jpeg", []byte("jpeg-bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, capture.StageConfirming, snap.Stage)
	assert.Equal(t, "ABC123", snap.Plate)
	assert.Equal(t, 91.0, snap.Confidence)

	// Confirm and consult
	body, _ := json.Marshal(SubmitLookupRequest{Patente: snap.Plate})
	resp, env = do(t, http.MethodPost, sessionURL+"/consultar", token, "application/json", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, capture.StageResulted, snap.Stage)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "normal", snap.Result.Status)

	// Reset back to capturing
	resp, env = do(t, http.MethodPost, sessionURL+"/reiniciar", token, "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = capture.Snapshot{} // omitempty fields are absent from the reset response; clear stale values
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, capture.StageCapturing, snap.Stage)
	assert.Empty(t, snap.Plate)
	assert.Nil(t, snap.Result)
}

func TestSubmitLookup_BackendRejection(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "ZZZ999", Confidence: 80})
	token := agentToken(t)

	_, env := do(t, http.MethodPost, srv.URL+"/api/carinfo/sesiones", token, "application/json", nil)
	var snap capture.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	sessionURL := srv.URL + "/api/carinfo/sesiones/" + snap.ID

	_, env = do(t, http.MethodPost, sessionURL+"/imagen", token, "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Equal(t, "ZZZ999", snap.Plate)

	body, _ := json.Marshal(SubmitLookupRequest{Patente: "ZZZ999"})
	resp, env := do(t, http.MethodPost, sessionURL+"/consultar", token, "application/json", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	// Session stays editable
	resp, env = do(t, http.MethodGet, sessionURL, token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, capture.StageConfirming, snap.Stage)
	assert.Equal(t, "Patente no registrada", snap.Message)
}

func TestSessionEndpoints_AuthRequired(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "ABC123"})

	resp, err := http.Post(srv.URL+"/api/carinfo/sesiones", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionEndpoints_PermissionRequired(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "ABC123"})

	token, err := auth.GenerateToken("sin-permiso", "Luis", "agente", []string{"otra.cosa"})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/carinfo/sesiones", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSession_OwnerScoped(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "ABC123"})
	token := agentToken(t)

	_, env := do(t, http.MethodPost, srv.URL+"/api/carinfo/sesiones", token, "application/json", nil)
	var snap capture.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))

	other, err := auth.GenerateToken("otro-agente", "Luis", "agente", []string{PermConsultar})
	require.NoError(t, err)

	resp, env := do(t, http.MethodGet, srv.URL+"/api/carinfo/sesiones/"+snap.ID, other, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SESSION_NOT_FOUND", env.Error.Code)
}

func TestGetConsultas_NoDatabase(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "ABC123"})
	token := agentToken(t)

	resp, env := do(t, http.MethodGet, srv.URL+"/api/carinfo/consultas", token, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)
}

func TestHealth_EmptyEngineCountsAsTesseract(t *testing.T) {
	registry := capture.NewRegistry(capture.Deps{
		Engine: func() (ocr.Engine, error) { return &fixedEngine{}, nil },
		Log:    zerolog.Nop(),
	}, time.Minute, zerolog.Nop())
	t.Cleanup(registry.Shutdown)

	handler := NewHandler(&models.Config{}, registry, zerolog.Nop())
	srv := httptest.NewServer(handler.SetupRoutes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "tesseract", health.OCREngine)

	// Degradation must track the resolved engine, not the raw config string.
	if health.Tesseract.Available {
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", health.Status)
	} else {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "degraded", health.Status)
	}
}

func TestHealth_Public(t *testing.T) {
	srv := newTestServer(t, ocr.Result{Text: "ABC123"})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, Version, health.Version)
}
