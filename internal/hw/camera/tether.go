package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/flash"
	"github.com/cjeanneret/snapgo/internal/hw/gpio"
)

// settleTime is how long a new file must stay quiet before it is considered complete.
const settleTime = 200 * time.Millisecond

// TetherConfig wires a DSLR's 3-pin remote connector and its tether folder.
type TetherConfig struct {
	FocusPin     int
	ShutterPin   int
	FocusDelay   time.Duration // time for autofocus
	ShutterDelay time.Duration // shutter hold time
	Dir          string        // tethering software writes new images here
	Wait         time.Duration // max time for the image to appear
}

// TetherGPIO is a Camera for a DSLR (e.g. Nikon D90) triggered via the remote
// connector, with images delivered to a folder by tethering software:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// It has a single sensor, reported as the back-facing one.
type TetherGPIO struct {
	gpio  gpio.Driver
	cfg   TetherConfig
	flash flash.Flash
}

// NewTetherGPIO configures both lines as outputs, HIGH (inactive).
func NewTetherGPIO(g gpio.Driver, cfg TetherConfig, f flash.Flash) *TetherGPIO {
	_ = g.SetupPin(cfg.FocusPin, gpio.Output)
	_ = g.SetupPin(cfg.ShutterPin, gpio.Output)
	_ = g.WritePin(cfg.FocusPin, gpio.High)
	_ = g.WritePin(cfg.ShutterPin, gpio.High)

	if f == nil {
		f = flash.None{}
	}
	return &TetherGPIO{gpio: g, cfg: cfg, flash: f}
}

// Ready requires the back sensor and an existing tether folder.
func (t *TetherGPIO) Ready(_ context.Context, facing Facing) error {
	if facing != FacingBack {
		return fmt.Errorf("%w: tethered camera has no %s-facing sensor", ErrNotReady, facing)
	}
	info, err := os.Stat(t.cfg.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotReady, t.cfg.Dir)
	}
	return nil
}

// Capture triggers the shutter and returns the image the tethering software
// drops into the folder.
func (t *TetherGPIO) Capture(ctx context.Context, s Settings) (string, error) {
	if err := t.Ready(ctx, s.Facing); err != nil {
		return "", err
	}

	// Watch before triggering so the new file cannot be missed.
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("watch tether dir: %w", err)
	}
	defer w.Close()
	if err := w.Add(t.cfg.Dir); err != nil {
		return "", fmt.Errorf("watch tether dir: %w", err)
	}

	if s.Flash == FlashOn {
		release, err := t.flash.Fire(ctx)
		if err != nil {
			return "", fmt.Errorf("fire flash: %w", err)
		}
		defer release()
	}

	if err := t.trigger(); err != nil {
		return "", err
	}
	return t.awaitImage(ctx, w)
}

// trigger runs FOCUS -> wait for AF -> SHUTTER -> hold -> release.
func (t *TetherGPIO) trigger() error {
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", t.cfg.FocusPin, t.cfg.ShutterPin)

	if err := t.gpio.WritePin(t.cfg.FocusPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(t.cfg.FocusDelay)

	if err := t.gpio.WritePin(t.cfg.ShutterPin, gpio.Low); err != nil {
		// Release FOCUS on error
		_ = t.gpio.WritePin(t.cfg.FocusPin, gpio.High)
		return err
	}
	time.Sleep(t.cfg.ShutterDelay)

	if err := t.gpio.WritePin(t.cfg.ShutterPin, gpio.High); err != nil {
		return err
	}
	return t.gpio.WritePin(t.cfg.FocusPin, gpio.High)
}

func (t *TetherGPIO) awaitImage(ctx context.Context, w *fsnotify.Watcher) (string, error) {
	deadline := time.NewTimer(t.cfg.Wait)
	defer deadline.Stop()

	var candidate string
	var settle <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return "", fmt.Errorf("tether watcher closed")
			}
			if !isImage(ev.Name) || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			if candidate == "" {
				debug.Verbose("Camera: tethered image appeared: %s", ev.Name)
				candidate = ev.Name
			}
			if ev.Name == candidate {
				settle = time.After(settleTime)
			}
		case err, ok := <-w.Errors:
			if ok {
				return "", fmt.Errorf("watch tether dir: %w", err)
			}
		case <-settle:
			return candidate, nil
		case <-deadline.C:
			return "", fmt.Errorf("no image from tethered camera after %v", t.cfg.Wait)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
