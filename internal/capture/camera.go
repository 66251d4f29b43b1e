package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
)

// Stream is a live camera stream. It must be released exactly once, from the
// capture path, the reset path or teardown, whichever happens first; a stream
// left open keeps the device busy.
type Stream interface {
	GrabFrame(ctx context.Context) ([]byte, error)
	Release()
}

// FrameSource is the camera capability. Acquisition may fail when the device
// is missing or access is denied, which callers surface as a fallback to
// file upload.
type FrameSource interface {
	AcquireStream(ctx context.Context) (Stream, error)
}

// HTTPCamera acquires still frames from a networked snapshot endpoint, the
// usual interface of the patrol units' dash cameras.
type HTTPCamera struct {
	snapshotURL string
	client      *http.Client
}

// NewHTTPCamera builds a camera from configuration. Returns nil when no
// snapshot URL is configured, which the session treats as CameraUnavailable.
func NewHTTPCamera(cfg models.CameraConfig) *HTTPCamera {
	if cfg.SnapshotURL == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCamera{
		snapshotURL: cfg.SnapshotURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// AcquireStream probes the snapshot endpoint before handing out a stream so
// that a dead camera fails at acquisition, mirroring a denied device grant.
func (c *HTTPCamera) AcquireStream(ctx context.Context) (Stream, error) {
	frame, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	return &httpStream{camera: c, lastFrame: frame}, nil
}

func (c *HTTPCamera) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.snapshotURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// httpStream refreshes the preview frame on every grab. Release is
// idempotent; a released stream refuses further grabs.
type httpStream struct {
	camera    *HTTPCamera
	lastFrame []byte

	mu       sync.Mutex
	released bool
}

func (s *httpStream) GrabFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: stream already released", ErrCameraUnavailable)
	}
	s.mu.Unlock()

	frame, err := s.camera.fetch(ctx)
	if err != nil {
		// The acquisition probe succeeded, so fall back to the frame it
		// fetched rather than failing the capture.
		if len(s.lastFrame) > 0 {
			return s.lastFrame, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	s.mu.Lock()
	s.lastFrame = frame
	s.mu.Unlock()
	return frame, nil
}

func (s *httpStream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.lastFrame = nil
	s.camera.client.CloseIdleConnections()
}
