//go:build unix

package permission

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DeviceProbe grants when every non-empty path is readable and writable by this process.
func DeviceProbe(paths ...string) Probe {
	return func(context.Context) error {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if err := unix.Access(p, unix.R_OK|unix.W_OK); err != nil {
				return fmt.Errorf("access %s: %w", p, err)
			}
		}
		return nil
	}
}
