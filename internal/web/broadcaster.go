package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster distributes log lines to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribed clients.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients as
// {"t":"...","l":"info","msg":"..."}. Slow clients miss messages.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(StatusEvent{
		Time:  b.now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts one log line.
// It is installed next to stderr with debug.SetOutput.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w.b.Broadcast(levelOf(line), line)
	}
	return len(p), nil
}

// levelOf extracts the level from a slog text line ("... level=ERROR ...").
func levelOf(line string) string {
	i := strings.Index(line, "level=")
	if i < 0 {
		return "info"
	}
	lvl := line[i+len("level="):]
	if j := strings.IndexByte(lvl, ' '); j >= 0 {
		lvl = lvl[:j]
	}
	return strings.ToLower(lvl)
}
