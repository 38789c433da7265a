package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/location"
	"github.com/cjeanneret/snapgo/internal/metrics"
	"github.com/cjeanneret/snapgo/internal/opener"
	"github.com/cjeanneret/snapgo/internal/permission"
)

// ErrNoPreview is returned by Preview when the camera cannot produce frames.
var ErrNoPreview = errors.New("camera has no preview")

// Relocator moves a temporary capture into durable storage.
type Relocator interface {
	Relocate(ctx context.Context, tmp string) (string, error)
}

// LocationReader takes the session's single location reading.
type LocationReader interface {
	Read(ctx context.Context) (location.Reading, error)
}

// Opener shows the photos directory to the user.
type Opener interface {
	Open(ctx context.Context) error
}

// Gate is the camera permission gate.
type Gate interface {
	Check(ctx context.Context) permission.Status
	Request(ctx context.Context) permission.Status
}

// CaptureEvent describes a stored photo. It carries no position.
type CaptureEvent struct {
	Path   string
	Facing camera.Facing
	Flash  camera.FlashMode
	Time   time.Time
}

// EventSink receives capture events, e.g. an MQTT publisher.
type EventSink interface {
	PublishCapture(ctx context.Context, e CaptureEvent) error
}

// Deps are the controller's ports. Location, Opener, Events and Metrics may be nil.
type Deps struct {
	Camera   camera.Camera
	Storage  Relocator
	Location LocationReader
	Opener   Opener
	Gate     Gate
	Events   EventSink
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Controller owns the screen state and runs the actions bound to its controls.
type Controller struct {
	deps Deps

	mu    sync.Mutex
	state State

	subMu sync.RWMutex
	subs  map[chan State]struct{}

	startOnce sync.Once
}

// NewController creates a controller starting from initial.
func NewController(d Deps, initial State) *Controller {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{
		deps:  d,
		state: initial,
		subs:  make(map[chan State]struct{}),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// apply runs a transition and notifies subscribers under the same lock, so
// they see states in transition order.
func (c *Controller) apply(t func(State) State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = t(c.state)
	c.publish(c.state)
	return c.state
}

// Permission returns the camera permission status.
func (c *Controller) Permission(ctx context.Context) permission.Status {
	return c.deps.Gate.Check(ctx)
}

// RequestPermission asks for camera permission. There is no retry limit.
func (c *Controller) RequestPermission(ctx context.Context) permission.Status {
	s := c.deps.Gate.Request(ctx)
	c.deps.Metrics.PermissionRequest(string(permission.Camera), string(s))
	c.apply(func(st State) State { return st })
	return s
}

// ToggleFacing switches between the back and front sensor.
func (c *Controller) ToggleFacing() State {
	before := c.Snapshot().Facing
	s := c.apply(ToggleFacing)
	debug.Toggle("facing", string(before), string(s.Facing))
	c.deps.Metrics.Toggle("facing")
	return s
}

// ToggleFlash switches the flash between off and on.
func (c *Controller) ToggleFlash() State {
	before := c.Snapshot().Flash
	s := c.apply(ToggleFlash)
	debug.Toggle("flash", string(before), string(s.Flash))
	c.deps.Metrics.Toggle("flash")
	return s
}

// Capture takes a photo with the current settings and stores it. On failure
// the previous photo reference is kept and the error is returned. A capture
// requested while another is in flight fails with ErrBusy.
func (c *Controller) Capture(ctx context.Context) (string, error) {
	if c.deps.Gate.Check(ctx) != permission.Granted {
		c.deps.Metrics.Capture("denied", 0)
		return "", permission.ErrDenied
	}

	c.mu.Lock()
	next, err := BeginCapture(c.state)
	if err != nil {
		c.mu.Unlock()
		c.deps.Metrics.Capture("busy", 0)
		debug.Verbose("Capture ignored: %v", err)
		return "", err
	}
	c.state = next
	c.publish(next)
	c.mu.Unlock()

	start := c.deps.Now()
	settings := next.Settings()
	debug.Capture(string(settings.Facing), string(settings.Flash))

	path, status, err := c.capture(ctx, settings)

	s := c.apply(func(s State) State {
		if err == nil {
			s = RecordCapture(s, path)
		}
		return EndCapture(s)
	})
	c.deps.Metrics.Capture(status, c.deps.Now().Sub(start))

	if err != nil {
		debug.Errorf("capture failed", err, "facing", settings.Facing, "flash", settings.Flash)
		return "", err
	}
	debug.Saved(s.LastPhoto, string(settings.Facing), string(settings.Flash))

	if c.deps.Events != nil {
		evt := CaptureEvent{Path: path, Facing: settings.Facing, Flash: settings.Flash, Time: start}
		if err := c.deps.Events.PublishCapture(ctx, evt); err != nil {
			debug.Errorf("capture event not published", err)
		}
	}
	return path, nil
}

// capture runs the device part of Capture and returns the metrics status.
func (c *Controller) capture(ctx context.Context, s camera.Settings) (string, string, error) {
	if err := c.deps.Camera.Ready(ctx, s.Facing); err != nil {
		return "", "not_ready", fmt.Errorf("camera %s: %w", s.Facing, err)
	}
	tmp, err := c.deps.Camera.Capture(ctx, s)
	if err != nil {
		return "", "capture_error", fmt.Errorf("take picture: %w", err)
	}
	debug.Verbose("Temporary capture: %s", tmp)
	path, err := c.deps.Storage.Relocate(ctx, tmp)
	if err != nil {
		return "", "storage_error", fmt.Errorf("store picture: %w", err)
	}
	return path, "success", nil
}

// Start runs the one-shot location read. Only the first call does anything;
// later calls return immediately.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.readLocation(ctx)
	})
}

func (c *Controller) readLocation(ctx context.Context) {
	if c.deps.Location == nil {
		c.deps.Metrics.LocationRead("error")
		c.apply(func(s State) State { return RecordLocationError(s, "Location unavailable") })
		return
	}

	debug.Verbose("Location: %s", location.FetchingMessage)
	r, err := c.deps.Location.Read(ctx)
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		c.deps.Metrics.LocationRead("denied")
		c.apply(func(s State) State { return RecordLocationError(s, location.DeniedMessage) })
		return
	case err != nil:
		c.deps.Metrics.LocationRead("error")
		debug.Errorf("location read failed", err)
		msg := err.Error()
		c.apply(func(s State) State { return RecordLocationError(s, msg) })
		return
	}

	c.deps.Metrics.LocationRead("success")
	var hint *location.Daylight
	if d, err := location.DaylightAt(r, c.deps.Now()); err == nil {
		hint = &d
	} else {
		debug.Verbose("No daylight hint: %v", err)
	}
	c.apply(func(s State) State { return RecordLocation(s, r, hint) })
}

// OpenPhotos opens the photos directory. It returns opener.ErrMissing when the
// directory has not been created yet.
func (c *Controller) OpenPhotos(ctx context.Context) error {
	if c.deps.Opener == nil {
		return opener.ErrMissing
	}
	err := c.deps.Opener.Open(ctx)
	switch {
	case err == nil:
		c.deps.Metrics.DirectoryOpen("success")
	case errors.Is(err, opener.ErrMissing):
		c.deps.Metrics.DirectoryOpen("missing")
	default:
		c.deps.Metrics.DirectoryOpen("error")
		debug.Errorf("open photos failed", err)
	}
	return err
}

// Preview returns one JPEG frame from the currently selected sensor.
func (c *Controller) Preview(ctx context.Context) ([]byte, error) {
	if c.deps.Gate.Check(ctx) != permission.Granted {
		return nil, permission.ErrDenied
	}
	p, ok := c.deps.Camera.(camera.Previewer)
	if !ok {
		return nil, ErrNoPreview
	}
	return p.Preview(ctx, c.Snapshot().Facing)
}

// Subscribe returns a channel receiving every new state and a cleanup function.
// Slow subscribers miss intermediate states.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (c *Controller) publish(s State) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
