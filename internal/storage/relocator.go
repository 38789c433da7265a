// Package storage moves freshly captured images into the durable photos directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// maxDuplicates bounds the collision suffix search.
const maxDuplicates = 1000

var (
	// ErrInsufficientSpace is returned when the photos volume is below the free-space floor.
	ErrInsufficientSpace = errors.New("insufficient free space")
	// ErrInvalidName is returned by ParseName for anything that is not a photo file name.
	ErrInvalidName = errors.New("invalid photo name")
)

// MoveError carries the failed file operation and the path it was applied to.
type MoveError struct {
	Path string
	Op   string
	Err  error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// Config describes the photos directory layout.
type Config struct {
	Root         string // private per-app document root
	DirName      string // e.g. "photos"
	Ext          string // e.g. ".jpg"
	MinFreeBytes uint64 // 0 = no check
}

// Relocator moves temporary capture files to <root>/<dir>/<epoch-millis><ext>.
type Relocator struct {
	cfg  Config
	now  func() time.Time
	free func(ctx context.Context, path string) (uint64, error)

	mu    sync.Mutex
	ready bool // directory established for this relocator's lifetime
}

// NewRelocator creates a relocator. The directory is created lazily.
func NewRelocator(cfg Config) *Relocator {
	return &Relocator{cfg: cfg, now: time.Now, free: freeBytes}
}

func freeBytes(ctx context.Context, path string) (uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// Dir returns the photos directory path.
func (r *Relocator) Dir() string {
	return filepath.Join(r.cfg.Root, r.cfg.DirName)
}

// Exists reports whether the photos directory exists.
func (r *Relocator) Exists(_ context.Context) (bool, error) {
	info, err := os.Stat(r.Dir())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// EnsureDir creates the photos directory once. Creating an existing directory
// is a no-op; a failed attempt is retried on the next call.
func (r *Relocator) EnsureDir() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	if err := os.MkdirAll(r.Dir(), 0o755); err != nil {
		return &MoveError{Path: r.Dir(), Op: "create directory", Err: err}
	}
	debug.Verbose("Storage: photos directory ready: %s", r.Dir())
	r.ready = true
	return nil
}

// Relocate moves tmp into the photos directory under a capture-time name and
// returns the durable path. The temporary file is gone afterwards.
func (r *Relocator) Relocate(ctx context.Context, tmp string) (string, error) {
	if err := r.EnsureDir(); err != nil {
		return "", err
	}
	if r.cfg.MinFreeBytes > 0 {
		free, err := r.free(ctx, r.Dir())
		if err != nil {
			return "", fmt.Errorf("check free space: %w", err)
		}
		if free < r.cfg.MinFreeBytes {
			return "", fmt.Errorf("%w: %d bytes free, need %d", ErrInsufficientSpace, free, r.cfg.MinFreeBytes)
		}
	}

	dest, err := r.destination(r.now())
	if err != nil {
		return "", err
	}
	if err := move(tmp, dest); err != nil {
		return "", err
	}
	debug.Verbose("Storage: moved %s -> %s", tmp, dest)
	return dest, nil
}

// destination picks <millis><ext>, appending -N when the name is taken.
func (r *Relocator) destination(at time.Time) (string, error) {
	base := strconv.FormatInt(at.UnixMilli(), 10)
	dest := filepath.Join(r.Dir(), base+r.cfg.Ext)
	for n := 1; ; n++ {
		if _, err := os.Lstat(dest); errors.Is(err, os.ErrNotExist) {
			return dest, nil
		}
		if n > maxDuplicates {
			return "", fmt.Errorf("too many photos named %s%s", base, r.cfg.Ext)
		}
		dest = filepath.Join(r.Dir(), fmt.Sprintf("%s-%d%s", base, n, r.cfg.Ext))
	}
}

var nameRe = regexp.MustCompile(`^([0-9]{1,19})(?:-([0-9]{1,4}))?(\.[A-Za-z0-9]+)$`)

// ParseName validates a photo file name and returns its capture time.
func ParseName(name, ext string) (time.Time, error) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil || m[3] != ext {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return time.UnixMilli(ms), nil
}
