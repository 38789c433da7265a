package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
)

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// tpv is the subset of a gpsd TPV (time-position-velocity) report we use.
type tpv struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"` // 0/1 = no fix, 2 = 2D, 3 = 3D
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	EPH   float64   `json:"eph"` // estimated horizontal error, metres
}

// GPSD takes one fix from a gpsd daemon.
type GPSD struct {
	Addr   string
	Dialer *net.Dialer
}

// NewGPSD creates a provider for the gpsd daemon at addr (host:port).
func NewGPSD(addr string) *GPSD {
	return &GPSD{Addr: addr, Dialer: &net.Dialer{}}
}

// Current enables watching and returns the first TPV report with a 2D or 3D fix.
// It blocks until a fix arrives or ctx is done.
func (g *GPSD) Current(ctx context.Context) (Reading, error) {
	conn, err := g.Dialer.DialContext(ctx, "tcp", g.Addr)
	if err != nil {
		return Reading{}, fmt.Errorf("connect gpsd: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return Reading{}, fmt.Errorf("gpsd watch: %w", err)
	}
	return readFix(ctx, conn)
}

func readFix(ctx context.Context, conn net.Conn) (Reading, error) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var report tpv
		if err := json.Unmarshal(sc.Bytes(), &report); err != nil {
			debug.Trace("gpsd: skipping unparsable line: %v", err)
			continue
		}
		if report.Class != "TPV" || report.Mode < 2 {
			continue
		}
		t := report.Time
		if t.IsZero() {
			t = time.Now().UTC()
		}
		return Reading{Latitude: report.Lat, Longitude: report.Lon, Accuracy: report.EPH, Time: t}, nil
	}
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	if err := sc.Err(); err != nil {
		return Reading{}, fmt.Errorf("gpsd read: %w", err)
	}
	return Reading{}, ErrNoFix
}
