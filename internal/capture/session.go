package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TheDamage/gestion-policial-fullstack/internal/geo"
	"github.com/TheDamage/gestion-policial-fullstack/internal/lookup"
	"github.com/TheDamage/gestion-policial-fullstack/internal/ocr"
	"github.com/TheDamage/gestion-policial-fullstack/internal/plate"
)

// Stage drives which sub-view the client renders.
type Stage string

const (
	StageCapturing  Stage = "capturing"
	StageProcessing Stage = "processing"
	StageConfirming Stage = "confirming"
	StageResulted   Stage = "resulted"
)

const (
	msgCameraUnavailable = "No se pudo acceder a la cámara"
	msgOCRFailed         = "Error procesando OCR"
	msgNoPlateDetected   = "No se pudo detectar una patente válida. Por favor ingrese manualmente."
	msgLookupFailed      = "Error consultando vehículo"
)

// Looker performs the backend vehicle lookup.
type Looker interface {
	Lookup(ctx context.Context, token string, req lookup.Request) (*lookup.Result, error)
}

// Deps are the injected capabilities one session works against. Camera may
// be nil (no device); Preprocess may be nil (engine takes raw frames).
type Deps struct {
	Camera     FrameSource
	Engine     ocr.Factory
	Preprocess func([]byte) []byte
	Locator    geo.Locator
	Lookup     Looker
	Log        zerolog.Logger
}

// Session is one capture-to-lookup cycle. All state is in-memory and guarded
// by mu; asynchronous work tags itself with the generation current at launch
// and is discarded if a reset bumped the generation in the meantime.
type Session struct {
	ID      uuid.UUID
	UserID  string
	deps    Deps
	created time.Time

	mu         sync.Mutex
	generation uint64
	stage      Stage
	rawImage   []byte
	extracted  string
	confidence float64
	coords     *geo.Coordinates
	result     *lookup.Result
	message    string
	stream     Stream
	lastActive time.Time
}

// NewSession creates a session in the capturing stage.
func NewSession(userID string, deps Deps) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.New(),
		UserID:     userID,
		deps:       deps,
		created:    now,
		stage:      StageCapturing,
		lastActive: now,
	}
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	ID          string           `json:"id"`
	Stage       Stage            `json:"stage"`
	Plate       string           `json:"patente,omitempty"`
	Confidence  float64          `json:"ocr_confidence,omitempty"`
	Coordinates *geo.Coordinates `json:"gps,omitempty"`
	Result      *lookup.Result   `json:"resultado,omitempty"`
	Message     string           `json:"mensaje,omitempty"`
	HasImage    bool             `json:"has_image"`
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.ID.String(),
		Stage:       s.stage,
		Plate:       s.extracted,
		Confidence:  s.confidence,
		Coordinates: s.coords,
		Result:      s.result,
		Message:     s.message,
		HasImage:    len(s.rawImage) > 0,
	}
}

// RawImage returns the captured image, if any.
func (s *Session) RawImage() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawImage
}

// StartCamera acquires the live camera stream. On failure the session stays
// in the capturing stage with a user-visible message; the caller falls back
// to file upload.
func (s *Session) StartCamera(ctx context.Context) error {
	s.mu.Lock()
	if s.stage != StageCapturing {
		s.mu.Unlock()
		return fmt.Errorf("%w: camera can only start while capturing", ErrInvalidStage)
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil // already running
	}
	camera := s.deps.Camera
	gen := s.generation
	s.mu.Unlock()

	if camera == nil {
		s.apply(gen, func() { s.message = msgCameraUnavailable })
		return fmt.Errorf("%w: no camera configured", ErrCameraUnavailable)
	}

	stream, err := camera.AcquireStream(ctx)
	if err != nil {
		s.apply(gen, func() { s.message = msgCameraUnavailable })
		s.deps.Log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("camera acquisition failed")
		if errors.Is(err, ErrCameraUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	if !s.apply(gen, func() {
		s.stream = stream
		s.message = ""
	}) {
		// Reset won the race: the stream must not outlive the cycle that
		// acquired it.
		stream.Release()
		return ErrStaleSession
	}
	return nil
}

// CapturePhoto freezes the current frame, releases the camera stream on
// every path, and runs the OCR pipeline on the frame.
func (s *Session) CapturePhoto(ctx context.Context) error {
	s.mu.Lock()
	stream := s.stream
	gen := s.generation
	s.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("%w: no active camera stream", ErrInvalidStage)
	}

	frame, err := stream.GrabFrame(ctx)

	// The stream is done regardless of the grab outcome.
	stream.Release()
	s.apply(gen, func() {
		if s.stream == stream {
			s.stream = nil
		}
	})

	if err != nil {
		s.apply(gen, func() { s.message = msgCameraUnavailable })
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	return s.processImage(ctx, gen, frame)
}

// SelectFile accepts a user-chosen image directly as the raw capture. No
// format whitelist is applied: malformed files surface downstream as OCR
// failures, not here.
func (s *Session) SelectFile(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	s.mu.Lock()
	if s.stage != StageCapturing {
		s.mu.Unlock()
		return fmt.Errorf("%w: upload requires the capturing stage", ErrInvalidStage)
	}
	gen := s.generation
	s.mu.Unlock()
	return s.processImage(ctx, gen, image)
}

// processImage advances to the processing stage, fires the best-effort
// geolocation fetch, and runs one scoped OCR recognition. The result is
// applied only if the session generation is still the one that started the
// pipeline.
func (s *Session) processImage(ctx context.Context, gen uint64, image []byte) error {
	if !s.apply(gen, func() {
		s.stage = StageProcessing
		s.rawImage = image
		s.extracted = ""
		s.confidence = 0
		s.coords = nil
		s.result = nil
		s.message = ""
	}) {
		return ErrStaleSession
	}

	// Geolocation runs independently of the OCR flow; it may resolve before,
	// during or after it, or never. It outlives the request context on
	// purpose.
	go s.locate(gen)

	result, err := s.recognize(ctx, image)
	if err != nil || result.Text == "" {
		detail := "resultado vacío"
		if err != nil {
			detail = err.Error()
		}
		err = fmt.Errorf("%w: %s", ErrOCRProcessing, detail)
		if !s.apply(gen, func() {
			// Back to capturing so the user retries the capture instead of
			// confirming an empty plate.
			s.stage = StageCapturing
			s.rawImage = nil
			s.message = msgOCRFailed + ": " + detail
		}) {
			return ErrStaleSession
		}
		s.deps.Log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("ocr stage failed")
		return err
	}

	extracted := plate.Extract(result.Text)
	if !s.apply(gen, func() {
		s.stage = StageConfirming
		if extracted != "" {
			s.extracted = extracted
			s.confidence = result.Confidence
		} else {
			s.message = msgNoPlateDetected
		}
	}) {
		return ErrStaleSession
	}

	s.deps.Log.Info().
		Str("session_id", s.ID.String()).
		Str("patente", extracted).
		Float64("confidence", result.Confidence).
		Bool("matched", extracted != "").
		Msg("plate extraction completed")
	return nil
}

// recognize performs one scoped OCR call: the engine instance never outlives
// the call, whatever the exit path.
func (s *Session) recognize(ctx context.Context, image []byte) (*ocr.Result, error) {
	engine, err := s.deps.Engine()
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	if s.deps.Preprocess != nil {
		image = s.deps.Preprocess(image)
	}
	return engine.Recognize(ctx, image)
}

// locate fetches coordinates best-effort. Failures are logged and never
// surfaced; a stale result is dropped.
func (s *Session) locate(gen uint64) {
	if s.deps.Locator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coords, err := s.deps.Locator.Position(ctx)
	if err != nil {
		s.deps.Log.Debug().Err(err).Str("session_id", s.ID.String()).Msg("geolocation unavailable")
		return
	}
	s.apply(gen, func() { s.coords = coords })
}

// SubmitLookup validates only that the plate is non-empty — the backend is
// the authority on format — and performs the lookup. On failure the session
// stays in confirming so the user can correct and resubmit.
func (s *Session) SubmitLookup(ctx context.Context, token, plateInput string) (*lookup.Result, error) {
	submitted := strings.ToUpper(strings.TrimSpace(plateInput))

	s.mu.Lock()
	if s.stage != StageConfirming {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: lookup requires the confirming stage", ErrInvalidStage)
	}
	if submitted == "" {
		s.message = "Ingrese una patente válida"
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	coords := s.coords
	gen := s.generation
	s.mu.Unlock()

	result, err := s.deps.Lookup.Lookup(ctx, token, lookup.Request{Plate: submitted, Coords: coords})
	if err != nil {
		message := msgLookupFailed
		var failure *lookup.Failure
		if errors.As(err, &failure) && failure.Message != "" {
			message = failure.Message
		}
		if !s.apply(gen, func() { s.message = message }) {
			return nil, ErrStaleSession
		}
		return nil, err
	}

	if !s.apply(gen, func() {
		s.stage = StageResulted
		s.extracted = submitted
		s.result = result
		s.message = ""
	}) {
		// Response arrived after a reset: never applied to the stale view.
		return nil, ErrStaleSession
	}
	return result, nil
}

// Reset clears the whole session back to the capturing stage. It is always
// available; in-flight work belonging to the previous generation is
// discarded when it completes.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.stream != nil {
		s.stream.Release()
		s.stream = nil
	}
	s.stage = StageCapturing
	s.rawImage = nil
	s.extracted = ""
	s.confidence = 0
	s.coords = nil
	s.result = nil
	s.message = ""
	s.lastActive = time.Now()
}

// Close tears the session down, releasing the camera stream if held.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.stream != nil {
		s.stream.Release()
		s.stream = nil
	}
}

// apply runs fn under the session lock only when gen is still the current
// generation, and reports whether it ran. This is the stale-result guard for
// every asynchronous completion.
func (s *Session) apply(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	fn()
	s.lastActive = time.Now()
	return true
}

// LastActive reports the last state change, used for idle eviction.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
