// Package location provides one-shot position readings behind a permission gate.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/snapgo/internal/config"
	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/permission"
)

// DeniedMessage is the fixed status shown for ErrPermissionDenied.
const DeniedMessage = "Permission to access location was denied"

// FetchingMessage is the placeholder shown before the first reading resolves.
const FetchingMessage = "Fetching location..."

var (
	// ErrPermissionDenied is returned when the location permission is refused.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrNoFix is returned when the provider has no position to report.
	ErrNoFix = errors.New("no position fix")
)

// Reading is a single position snapshot.
type Reading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"` // metres, 0 = unknown
	Time      time.Time `json:"time"`
}

// Validate checks coordinate ranges.
func (r Reading) Validate() error {
	return config.ValidateCoordinates(r.Latitude, r.Longitude)
}

// Provider returns the current position once.
type Provider interface {
	Current(ctx context.Context) (Reading, error)
}

// Permission is the part of permission.Gate the reader needs.
type Permission interface {
	Request(ctx context.Context) permission.Status
}

// Reader requests permission and then takes one reading.
type Reader struct {
	gate     Permission
	provider Provider
}

// NewReader creates a reader. provider may be nil when no location source is
// configured; Read then fails with ErrNoFix after the permission step.
func NewReader(gate Permission, provider Provider) *Reader {
	return &Reader{gate: gate, provider: provider}
}

// Read requests foreground location permission, then fetches one position.
// No retry, smoothing or caching is applied.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	if r.gate.Request(ctx) != permission.Granted {
		return Reading{}, ErrPermissionDenied
	}
	if r.provider == nil {
		return Reading{}, ErrNoFix
	}
	reading, err := r.provider.Current(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("read location: %w", err)
	}
	if err := reading.Validate(); err != nil {
		return Reading{}, fmt.Errorf("read location: %w", err)
	}
	debug.Info("Location: %.6f, %.6f", reading.Latitude, reading.Longitude)
	return reading, nil
}

// Static always reports the configured position.
type Static struct {
	Latitude  float64
	Longitude float64
}

func (s Static) Current(context.Context) (Reading, error) {
	return Reading{Latitude: s.Latitude, Longitude: s.Longitude, Time: time.Now().UTC()}, nil
}
