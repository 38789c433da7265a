package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/flash"
)

// Runner executes an external tool and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// CommandConfig describes a still-capture tool such as fswebcam or libcamera-still.
type CommandConfig struct {
	Devices     map[Facing]string // device path per sensor
	Command     string
	Args        []string // placeholders: {device} {output} {width} {height}
	PreviewArgs []string // optional; the frame is read from stdout
	Width       int
	Height      int
	TempDir     string
}

// Command captures by running an external tool once per shot.
type Command struct {
	cfg   CommandConfig
	flash flash.Flash
	run   Runner
}

// NewCommand creates a tool-backed camera. If run is nil, os/exec is used.
func NewCommand(cfg CommandConfig, f flash.Flash, run Runner) *Command {
	if f == nil {
		f = flash.None{}
	}
	if run == nil {
		run = execRunner
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Command{cfg: cfg, flash: f, run: run}
}

// Ready checks that a device is configured for facing and present on the system.
func (c *Command) Ready(_ context.Context, facing Facing) error {
	dev := c.cfg.Devices[facing]
	if dev == "" {
		return fmt.Errorf("%w: no %s-facing device configured", ErrNotReady, facing)
	}
	if _, err := os.Stat(dev); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

// Capture runs the tool, writing to a fresh temporary file.
func (c *Command) Capture(ctx context.Context, s Settings) (string, error) {
	if err := c.Ready(ctx, s.Facing); err != nil {
		return "", err
	}
	out := TempPath(c.cfg.TempDir, ".jpg")
	args := c.expand(c.cfg.Args, s.Facing, out)

	if s.Flash == FlashOn {
		release, err := c.flash.Fire(ctx)
		if err != nil {
			return "", fmt.Errorf("fire flash: %w", err)
		}
		defer release()
	}

	debug.Verbose("Camera: %s %s", c.cfg.Command, strings.Join(args, " "))
	if _, err := c.run(ctx, c.cfg.Command, args...); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("capture: %w", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("capture produced no file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(out)
		return "", fmt.Errorf("capture produced an empty file")
	}
	return out, nil
}

// Preview returns one frame from the tool's stdout.
func (c *Command) Preview(ctx context.Context, facing Facing) ([]byte, error) {
	if len(c.cfg.PreviewArgs) == 0 {
		return nil, fmt.Errorf("preview not configured")
	}
	if err := c.Ready(ctx, facing); err != nil {
		return nil, err
	}
	return c.run(ctx, c.cfg.Command, c.expand(c.cfg.PreviewArgs, facing, "-")...)
}

func (c *Command) expand(tmpl []string, facing Facing, output string) []string {
	r := strings.NewReplacer(
		"{device}", c.cfg.Devices[facing],
		"{output}", output,
		"{width}", strconv.Itoa(c.cfg.Width),
		"{height}", strconv.Itoa(c.cfg.Height),
	)
	args := make([]string, len(tmpl))
	for i, a := range tmpl {
		args[i] = r.Replace(a)
	}
	return args
}
