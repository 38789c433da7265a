// Package screen holds the capture screen's state and the controller that
// drives it.
//
// State is a value. Every change goes through one of the transition
// functions below, which take a snapshot and return the next one. The
// Controller owns the current snapshot and performs the device calls.
package screen

import (
	"errors"

	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/location"
)

// ErrBusy is returned when a capture is requested while another one is in flight.
var ErrBusy = errors.New("capture already in progress")

// LocationPhase is the display phase of the one-shot location reading.
type LocationPhase string

const (
	LocationFetching LocationPhase = "fetching"
	LocationReady    LocationPhase = "ready"
	LocationError    LocationPhase = "error"
)

// LocationStatus is the read-only location line of the screen.
type LocationStatus struct {
	Phase    LocationPhase      `json:"phase"`
	Reading  *location.Reading  `json:"reading,omitempty"`
	Error    string             `json:"error,omitempty"`
	Daylight *location.Daylight `json:"daylight,omitempty"`
}

// Message is the text shown on the location line.
func (l LocationStatus) Message() string {
	switch l.Phase {
	case LocationError:
		return l.Error
	case LocationReady:
		return ""
	default:
		return location.FetchingMessage
	}
}

// State is one snapshot of the capture screen.
type State struct {
	Facing    camera.Facing    `json:"facing"`
	Flash     camera.FlashMode `json:"flash"`
	LastPhoto string           `json:"last_photo,omitempty"` // durable path of the latest capture
	Busy      bool             `json:"busy"`
	Location  LocationStatus   `json:"location"`
}

// Initial returns the state of a freshly mounted screen.
func Initial(facing camera.Facing) State {
	if facing != camera.FacingFront {
		facing = camera.FacingBack
	}
	return State{
		Facing:   facing,
		Flash:    camera.FlashOff,
		Location: LocationStatus{Phase: LocationFetching},
	}
}

// Settings returns the capture parameters selected in s.
func (s State) Settings() camera.Settings {
	return camera.Settings{Facing: s.Facing, Flash: s.Flash}
}

// ToggleFacing flips back and front.
func ToggleFacing(s State) State {
	s.Facing = s.Facing.Toggle()
	return s
}

// ToggleFlash flips off and on.
func ToggleFlash(s State) State {
	s.Flash = s.Flash.Toggle()
	return s
}

// BeginCapture marks a capture in flight. It fails with ErrBusy and returns s
// unchanged when one already is.
func BeginCapture(s State) (State, error) {
	if s.Busy {
		return s, ErrBusy
	}
	s.Busy = true
	return s, nil
}

// RecordCapture replaces the last photo reference.
func RecordCapture(s State, path string) State {
	s.LastPhoto = path
	return s
}

// EndCapture clears the busy flag.
func EndCapture(s State) State {
	s.Busy = false
	return s
}

// RecordLocation stores the session's reading. Once the location line has
// left the fetching phase it never changes again.
func RecordLocation(s State, r location.Reading, d *location.Daylight) State {
	if s.Location.Phase != LocationFetching {
		return s
	}
	s.Location = LocationStatus{Phase: LocationReady, Reading: &r, Daylight: d}
	return s
}

// RecordLocationError puts the location line permanently into the error phase.
func RecordLocationError(s State, msg string) State {
	if s.Location.Phase != LocationFetching {
		return s
	}
	s.Location = LocationStatus{Phase: LocationError, Error: msg}
	return s
}
