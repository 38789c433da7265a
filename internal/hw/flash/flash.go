package flash

import (
	"context"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/gpio"
)

// Flash lights the scene for the duration of one capture.
type Flash interface {
	// Fire turns the flash on. The returned release turns it off again and
	// must always be called.
	Fire(ctx context.Context) (release func(), err error)
}

// None is used when no flash hardware is wired. Fire is a no-op.
type None struct{}

func (None) Fire(context.Context) (func(), error) {
	debug.Verbose("Flash: no flash hardware, ignoring")
	return func() {}, nil
}

// GPIOFlash drives an LED/flash module on one GPIO line (HIGH = lit).
type GPIOFlash struct {
	gpio     gpio.Driver
	pin      int
	leadTime time.Duration // time between flash on and shutter
}

// NewGPIOFlash configures pin as an output and makes sure it starts LOW.
func NewGPIOFlash(g gpio.Driver, pin int, leadTime time.Duration) *GPIOFlash {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)
	return &GPIOFlash{gpio: g, pin: pin, leadTime: leadTime}
}

// Fire sets the flash pin HIGH and waits for the lead time so the sensor
// meters against the lit scene.
func (f *GPIOFlash) Fire(ctx context.Context) (func(), error) {
	debug.Verbose("Flash: pin %d -> HIGH", f.pin)
	if err := f.gpio.WritePin(f.pin, gpio.High); err != nil {
		return func() {}, err
	}
	release := func() {
		debug.Verbose("Flash: pin %d -> LOW", f.pin)
		if err := f.gpio.WritePin(f.pin, gpio.Low); err != nil {
			debug.Errorf("flash release failed", err, "pin", f.pin)
		}
	}

	select {
	case <-time.After(f.leadTime):
	case <-ctx.Done():
		release()
		return func() {}, ctx.Err()
	}
	return release, nil
}
