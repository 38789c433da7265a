package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cjeanneret/snapgo/internal/config"
	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/hw/flash"
	"github.com/cjeanneret/snapgo/internal/hw/gpio"
	"github.com/cjeanneret/snapgo/internal/location"
	"github.com/cjeanneret/snapgo/internal/logic/screen"
	"github.com/cjeanneret/snapgo/internal/metrics"
	"github.com/cjeanneret/snapgo/internal/notify"
	"github.com/cjeanneret/snapgo/internal/opener"
	"github.com/cjeanneret/snapgo/internal/permission"
	"github.com/cjeanneret/snapgo/internal/storage"
)

// app is the wired capture station: hardware, storage, permissions and the
// screen controller built from one configuration.
type app struct {
	cfg        *config.Config
	gpio       gpio.Driver
	permStore  *permission.FileStore
	relocator  *storage.Relocator
	reader     *location.Reader
	registry   *prometheus.Registry
	events     *notify.MQTT // nil unless mqtt is configured
	controller *screen.Controller
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	a.gpio = g

	debug.Step(2, "Initializing camera")
	fl := newFlashFromConfig(g, cfg)
	cam, err := newCameraFromConfig(g, fl, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init camera: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Flash pin", cfg.Flash.Pin)

	debug.Step(3, "Initializing storage and permissions")
	a.relocator = storage.NewRelocator(storage.Config{
		Root:         cfg.Storage.DocumentRoot,
		DirName:      cfg.Storage.PhotosDir,
		Ext:          cfg.Storage.Extension,
		MinFreeBytes: cfg.MinFreeBytes(),
	})
	debug.Value("Photos directory", a.relocator.Dir())

	a.permStore = permission.NewFileStore(cfg.Permissions.StateFile,
		map[permission.Capability]permission.Policy{
			permission.Camera:   permission.Policy(cfg.Permissions.Camera),
			permission.Location: permission.Policy(cfg.Permissions.Location),
		},
		map[permission.Capability]permission.Probe{
			permission.Camera:   cameraProbe(cfg),
			permission.Location: locationProbe(cfg),
		},
	)
	if err := a.permStore.Load(); err != nil {
		// Unreadable state reads as denied until the next request rewrites it.
		debug.Errorf("permission state not loaded", err, "path", cfg.Permissions.StateFile)
	}
	cameraGate := permission.NewGate(permission.Camera, a.permStore)
	a.reader = location.NewReader(
		permission.NewGate(permission.Location, a.permStore),
		newLocationProvider(cfg),
	)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	var sink screen.EventSink
	if cfg.MQTT != nil {
		a.events = notify.NewMQTT(*cfg.MQTT)
		sink = a.events
		debug.Value("MQTT broker", cfg.MQTT.Broker)
	}

	a.controller = screen.NewController(screen.Deps{
		Camera:   cam,
		Storage:  a.relocator,
		Location: a.reader,
		Opener:   opener.New(a.relocator, opener.PlatformLauncher(cfg.Storage.OpenCommand)),
		Gate:     cameraGate,
		Events:   sink,
		Metrics:  m,
	}, screen.Initial(camera.Facing(cfg.Defaults.Facing)))

	return a, nil
}

// connectEvents connects the MQTT publisher if one is configured. A broker
// that cannot be reached only disables events.
func (a *app) connectEvents(ctx context.Context) {
	if a.events == nil {
		return
	}
	if err := a.events.Connect(ctx); err != nil {
		debug.Errorf("MQTT unavailable, capture events disabled", err)
	}
}

// Close releases hardware and connections.
func (a *app) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.gpio != nil {
		if err := a.gpio.Close(); err != nil {
			debug.Errorf("closing GPIO driver failed", err)
		}
	}
}

// newFlashFromConfig returns the GPIO flash when a pin is configured.
func newFlashFromConfig(g gpio.Driver, cfg *config.Config) flash.Flash {
	if cfg.Flash.Pin <= 0 {
		return flash.None{}
	}
	return flash.NewGPIOFlash(g, cfg.Flash.Pin, cfg.FlashLeadTime())
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, f flash.Flash, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "command":
		devices := map[camera.Facing]string{camera.FacingBack: cfg.Camera.BackDevice}
		if cfg.Camera.FrontDevice != "" {
			devices[camera.FacingFront] = cfg.Camera.FrontDevice
		}
		return camera.NewCommand(camera.CommandConfig{
			Devices:     devices,
			Command:     cfg.Camera.Command,
			Args:        cfg.Camera.Args,
			PreviewArgs: cfg.Camera.PreviewArgs,
			Width:       cfg.Camera.WidthPx,
			Height:      cfg.Camera.HeightPx,
			TempDir:     os.TempDir(),
		}, f, nil), nil
	case "tether_gpio":
		return camera.NewTetherGPIO(g, camera.TetherConfig{
			FocusPin:     cfg.Camera.FocusPin,
			ShutterPin:   cfg.Camera.ShutterPin,
			FocusDelay:   cfg.FocusDelay(),
			ShutterDelay: cfg.ShutterDelay(),
			Dir:          cfg.Camera.TetherDir,
			Wait:         cfg.TetherWait(),
		}, f), nil
	case "mock":
		return camera.NewMock(os.TempDir(), f), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// cameraProbe checks the devices the configured camera needs.
func cameraProbe(cfg *config.Config) permission.Probe {
	switch cfg.Camera.Type {
	case "command":
		return permission.DeviceProbe(cfg.Camera.BackDevice, cfg.Camera.FrontDevice)
	case "tether_gpio":
		return permission.DeviceProbe(cfg.Camera.TetherDir)
	default:
		return nil
	}
}

var errNoProvider = errors.New("no location provider configured")

// locationProbe checks that the configured provider can answer.
func locationProbe(cfg *config.Config) permission.Probe {
	switch cfg.Location.Provider {
	case "static":
		return nil
	case "gpsd":
		addr := cfg.Location.GPSDAddr
		return func(ctx context.Context) error {
			d := net.Dialer{Timeout: 2 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		}
	default:
		return func(context.Context) error { return errNoProvider }
	}
}

// newLocationProvider returns nil when no provider is configured.
func newLocationProvider(cfg *config.Config) location.Provider {
	switch cfg.Location.Provider {
	case "static":
		return location.Static{Latitude: cfg.Location.Latitude, Longitude: cfg.Location.Longitude}
	case "gpsd":
		return location.NewGPSD(cfg.Location.GPSDAddr)
	default:
		return nil
	}
}
