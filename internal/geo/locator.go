package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/TheDamage/gestion-policial-fullstack/internal/models"
)

// ErrUnavailable means no position could be obtained. Callers treat it as
// best-effort: it is logged at most, never surfaced to the user.
var ErrUnavailable = errors.New("geolocation unavailable")

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locator obtains the device's current position, best-effort.
type Locator interface {
	Position(ctx context.Context) (*Coordinates, error)
}

// NewLocator selects the locator implementation from configuration.
func NewLocator(cfg models.GeoConfig) Locator {
	switch cfg.Mode {
	case "static":
		return &StaticLocator{Coords: Coordinates{Latitude: cfg.Latitude, Longitude: cfg.Longitude}}
	case "http":
		return &HTTPLocator{URL: cfg.URL, Client: &http.Client{Timeout: 5 * time.Second}}
	default:
		return NopLocator{}
	}
}

// NopLocator never yields a position.
type NopLocator struct{}

func (NopLocator) Position(context.Context) (*Coordinates, error) {
	return nil, ErrUnavailable
}

// StaticLocator reports a fixed position, typical for desk installations
// where the unit location is configured once.
type StaticLocator struct {
	Coords Coordinates
}

func (l *StaticLocator) Position(context.Context) (*Coordinates, error) {
	return &l.Coords, nil
}

// HTTPLocator asks a positioning service (e.g. the mobile unit's GPS bridge)
// for the current coordinates.
type HTTPLocator struct {
	URL    string
	Client *http.Client
}

func (l *HTTPLocator) Position(ctx context.Context) (*Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var coords Coordinates
	if err := json.NewDecoder(resp.Body).Decode(&coords); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &coords, nil
}
