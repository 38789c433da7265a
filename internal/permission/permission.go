// Package permission is the gate in front of device capabilities.
//
// A Store answers and records permission decisions per capability. The Gate
// binds one capability to a store and is what the rest of the application
// consults before touching the camera or the location provider.
package permission

import (
	"context"
	"errors"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// Capability names a device capability that needs permission.
type Capability string

const (
	Camera   Capability = "camera"
	Location Capability = "location"
)

// Status is the tri-state permission answer.
type Status string

const (
	Unknown Status = "unknown" // not yet resolved; render nothing
	Denied  Status = "denied"
	Granted Status = "granted"
)

// ErrDenied is returned by operations attempted without permission.
var ErrDenied = errors.New("permission denied")

// Store is the platform permission subsystem.
type Store interface {
	Status(ctx context.Context, c Capability) (Status, error)
	Request(ctx context.Context, c Capability) (Status, error)
}

// Gate checks and requests one capability.
type Gate struct {
	capability Capability
	store      Store
}

// NewGate binds capability c to store.
func NewGate(c Capability, store Store) *Gate {
	return &Gate{capability: c, store: store}
}

// Check returns the current status. Store errors are indistinguishable from denial.
func (g *Gate) Check(ctx context.Context) Status {
	s, err := g.store.Status(ctx, g.capability)
	if err != nil {
		debug.Errorf("permission status failed", err, "capability", g.capability)
		return Denied
	}
	return s
}

// Request asks the platform for the permission. It may be called any number of times.
func (g *Gate) Request(ctx context.Context) Status {
	s, err := g.store.Request(ctx, g.capability)
	if err != nil {
		debug.Errorf("permission request failed", err, "capability", g.capability)
		return Denied
	}
	debug.Info("Permission %s: %s", g.capability, s)
	return s
}
