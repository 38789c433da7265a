package camera

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/google/uuid"
)

// Facing selects the physical sensor.
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// Toggle returns the other sensor.
func (f Facing) Toggle() Facing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// FlashMode tells the capture primitive whether to fire the flash.
type FlashMode string

const (
	FlashOff FlashMode = "off"
	FlashOn  FlashMode = "on"
)

// Toggle returns the other flash mode.
func (m FlashMode) Toggle() FlashMode {
	if m == FlashOff {
		return FlashOn
	}
	return FlashOff
}

// Settings are the per-capture parameters chosen on the screen.
type Settings struct {
	Facing Facing
	Flash  FlashMode
}

// ErrNotReady is returned when the requested sensor is not attached.
var ErrNotReady = errors.New("camera not ready")

// Camera is the still-capture primitive used by the rest of the application,
// regardless of how it's controlled (V4L2 tool, GPIO-tethered DSLR, mock).
type Camera interface {
	// Ready reports whether the sensor for facing is attached.
	Ready(ctx context.Context, facing Facing) error
	// Capture takes one still image and returns the path of a temporary file
	// holding it. The caller owns the file.
	Capture(ctx context.Context, s Settings) (string, error)
}

// Previewer is implemented by cameras that can produce a live preview frame.
type Previewer interface {
	Preview(ctx context.Context, facing Facing) ([]byte, error)
}

// TempPath returns a fresh, unique temporary image path inside dir.
func TempPath(dir, ext string) string {
	return filepath.Join(dir, "snapgo-"+uuid.NewString()+ext)
}
