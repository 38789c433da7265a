package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/flash"
)

// Mock renders a flat test frame per sensor. Used for development on PC.
type Mock struct {
	tempDir string
	flash   flash.Flash
}

// NewMock creates a mock camera writing into tempDir (os.TempDir if empty).
func NewMock(tempDir string, f flash.Flash) *Mock {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if f == nil {
		f = flash.None{}
	}
	return &Mock{tempDir: tempDir, flash: f}
}

func (m *Mock) Ready(context.Context, Facing) error { return nil }

func (m *Mock) Capture(ctx context.Context, s Settings) (string, error) {
	if s.Flash == FlashOn {
		release, err := m.flash.Fire(ctx)
		if err != nil {
			return "", fmt.Errorf("fire flash: %w", err)
		}
		defer release()
	}

	data, err := frame(s.Facing, s.Flash == FlashOn)
	if err != nil {
		return "", err
	}
	out := TempPath(m.tempDir, ".jpg")
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return "", fmt.Errorf("write mock frame: %w", err)
	}
	debug.Verbose("Camera (mock): wrote %s", out)
	return out, nil
}

func (m *Mock) Preview(_ context.Context, facing Facing) ([]byte, error) {
	return frame(facing, false)
}

func frame(facing Facing, lit bool) ([]byte, error) {
	c := color.RGBA{R: 40, G: 90, B: 160, A: 255}
	if facing == FacingFront {
		c = color.RGBA{R: 160, G: 90, B: 40, A: 255}
	}
	if lit {
		c.R, c.G, c.B = c.R/2+127, c.G/2+127, c.B/2+127
	}
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode mock frame: %w", err)
	}
	return buf.Bytes(), nil
}
