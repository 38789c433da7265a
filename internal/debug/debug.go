package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, permission decisions, saved photos)
	LevelLive    = 2 // Live info (toggles, captures in flight)
	LevelVerbose = 3 // Verbose (commands run, file moves)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

// slog levels used for the extra verbosity steps.
const (
	slogLive    = slog.LevelInfo - 1
	slogVerbose = slog.LevelDebug
	slogTrace   = slog.LevelDebug - 4
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *slog.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info
// 2 = live info (toggles, captures)
// 3 = verbose (commands, file moves)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects all debug output (e.g. to tee into the web status stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

func rebuild() {
	if level <= LevelOff {
		logger = nil
		return
	}
	h := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: slogTrace,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			switch a.Value.Any().(slog.Level) {
			case slogLive:
				a.Value = slog.StringValue("LIVE")
			case slogTrace:
				a.Value = slog.StringValue("TRACE")
			}
			return a
		},
	})
	logger = slog.New(h).With("app", "snapgo")
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func emit(minLevel int, lvl slog.Level, msg string, args ...any) {
	mu.RLock()
	l, cur := logger, level
	mu.RUnlock()
	if cur < minLevel || l == nil {
		return
	}
	l.Log(context.Background(), lvl, msg, args...)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...any) {
	emit(LevelInfo, slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Summary prints an important banner (level 1).
func Summary(title string) {
	emit(LevelInfo, slog.LevelInfo, "═══ "+title+" ═══")
}

// Saved prints a photo stored at its durable location (level 1).
func Saved(path string, facing, flash string) {
	emit(LevelInfo, slog.LevelInfo, "photo saved", "path", path, "facing", facing, "flash", flash)
}

// Value prints a named value (level 1).
func Value(name string, value any) {
	emit(LevelInfo, slog.LevelInfo, name, "value", value)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...any) {
	emit(LevelLive, slogLive, fmt.Sprintf(format, args...))
}

// Toggle prints a state toggle (level 2).
func Toggle(what, from, to string) {
	emit(LevelLive, slogLive, "toggle", "what", what, "from", from, "to", to)
}

// Capture prints the start of a capture (level 2).
func Capture(facing, flash string) {
	emit(LevelLive, slogLive, "capture requested", "facing", facing, "flash", flash)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...any) {
	emit(LevelVerbose, slogVerbose, fmt.Sprintf(format, args...))
}

// Printf is an alias for Verbose for compatibility.
func Printf(format string, args ...any) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	emit(LevelVerbose, slogVerbose, name, "value", fmt.Sprintf("%+v", v))
}

// Section prints a section separator (level 3).
func Section(name string) {
	emit(LevelVerbose, slogVerbose, "━━━ "+name+" ━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, slogVerbose, description, "step", num)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...any) {
	emit(LevelTrace, slogTrace, fmt.Sprintf(format, args...))
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value any) {
	emit(LevelTrace, slogTrace, "gpio", "op", operation, "pin", pin, "value", value)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	emit(LevelInfo, slog.LevelError, "error", "err", err)
}

// Errorf prints an error with context (level 1+).
func Errorf(msg string, err error, args ...any) {
	emit(LevelInfo, slog.LevelError, msg, append([]any{"err", err}, args...)...)
}
