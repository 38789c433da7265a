// Package opener hands the photos directory to the desktop's file viewer.
package opener

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// AlertMessage is what the user sees when ErrMissing is returned.
const AlertMessage = "Photo directory does not exist"

// ErrMissing is surfaced to the user as an alert.
var ErrMissing = errors.New("photo directory does not exist")

// Directory is the photos directory as seen by the opener.
type Directory interface {
	Dir() string
	Exists(ctx context.Context) (bool, error)
}

// Launcher opens a path in an external viewer.
type Launcher interface {
	Launch(ctx context.Context, path string) error
}

// Opener opens the photos directory if it exists.
type Opener struct {
	dir      Directory
	launcher Launcher
}

// New creates an opener.
func New(dir Directory, l Launcher) *Opener {
	return &Opener{dir: dir, launcher: l}
}

// Open checks the directory and launches the viewer. It never creates anything.
func (o *Opener) Open(ctx context.Context) error {
	ok, err := o.dir.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check photo directory: %w", err)
	}
	if !ok {
		return ErrMissing
	}
	debug.Live("Opening %s", o.dir.Dir())
	if err := o.launcher.Launch(ctx, o.dir.Dir()); err != nil {
		return fmt.Errorf("open photo directory: %w", err)
	}
	return nil
}

// CommandLauncher runs a platform opener command with the path as last argument.
type CommandLauncher struct {
	Command string
	Args    []string
}

// PlatformLauncher returns the generic opener for the running OS.
// override replaces the command when non-empty.
func PlatformLauncher(override string) CommandLauncher {
	if override != "" {
		return CommandLauncher{Command: override}
	}
	switch runtime.GOOS {
	case "darwin":
		return CommandLauncher{Command: "open"}
	case "windows":
		return CommandLauncher{Command: "explorer"}
	default:
		return CommandLauncher{Command: "xdg-open"}
	}
}

// Launch starts the opener and does not wait for the viewer to exit.
func (l CommandLauncher) Launch(ctx context.Context, path string) error {
	args := append(append([]string{}, l.Args...), path)
	cmd := exec.Command(l.Command, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			debug.Errorf("opener exited", err, "command", l.Command)
		}
	}()
	return nil
}
