package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/logic/screen"
	"github.com/cjeanneret/snapgo/internal/opener"
	"github.com/cjeanneret/snapgo/internal/permission"
	"github.com/cjeanneret/snapgo/internal/storage"
)

// Screen is the capture screen as driven from the browser.
type Screen interface {
	Snapshot() screen.State
	Permission(ctx context.Context) permission.Status
	RequestPermission(ctx context.Context) permission.Status
	ToggleFacing() screen.State
	ToggleFlash() screen.State
	Capture(ctx context.Context) (string, error)
	Preview(ctx context.Context) ([]byte, error)
	OpenPhotos(ctx context.Context) error
	Subscribe() (<-chan screen.State, func())
}

// PhotoDir locates stored photos for thumbnail serving.
type PhotoDir struct {
	Dir string
	Ext string
}

// StateView is the JSON shape of the screen sent to the browser.
type StateView struct {
	Permission permission.Status `json:"permission"`
	screen.State
	LastPhotoURL    string `json:"last_photo_url,omitempty"`
	LocationMessage string `json:"location_message,omitempty"`
	FlashSuggested  bool   `json:"flash_suggested"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Screen      Screen
	Photos      PhotoDir
	staticFS    fs.FS
	heartbeat   time.Duration
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, s Screen, photos PhotoDir, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Screen:      s,
		Photos:      photos,
		staticFS:    staticFS,
		heartbeat:   30 * time.Second,
	}
}

func (h *Handlers) view(ctx context.Context, s screen.State) StateView {
	v := StateView{
		Permission:      h.Screen.Permission(ctx),
		State:           s,
		LocationMessage: s.Location.Message(),
	}
	if s.LastPhoto != "" {
		v.LastPhotoURL = "/photos/" + filepath.Base(s.LastPhoto)
	}
	if d := s.Location.Daylight; d != nil && d.Dark && s.Flash == camera.FlashOff {
		v.FlashSuggested = true
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeAlert(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"alert": msg})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState handles GET /api/state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view(r.Context(), h.Screen.Snapshot()))
}

// HandlePermissionRequest handles POST /api/permission/request.
func (h *Handlers) HandlePermissionRequest(w http.ResponseWriter, r *http.Request) {
	h.Screen.RequestPermission(r.Context())
	writeJSON(w, http.StatusOK, h.view(r.Context(), h.Screen.Snapshot()))
}

// HandleToggleFacing handles POST /api/facing/toggle.
func (h *Handlers) HandleToggleFacing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view(r.Context(), h.Screen.ToggleFacing()))
}

// HandleToggleFlash handles POST /api/flash/toggle.
func (h *Handlers) HandleToggleFlash(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view(r.Context(), h.Screen.ToggleFlash()))
}

// HandleCapture handles POST /api/capture. Capture and storage failures are
// logged by the controller and answered with the unchanged state.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	// Captures run to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	_, err := h.Screen.Capture(ctx)
	switch {
	case errors.Is(err, permission.ErrDenied):
		http.Error(w, "camera permission not granted", http.StatusForbidden)
		return
	case errors.Is(err, screen.ErrBusy):
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r.Context(), h.Screen.Snapshot()))
}

// HandlePreview handles GET /api/preview.jpg.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	frame, err := h.Screen.Preview(r.Context())
	switch {
	case errors.Is(err, permission.ErrDenied):
		http.Error(w, "camera permission not granted", http.StatusForbidden)
		return
	case errors.Is(err, screen.ErrNoPreview):
		http.Error(w, "preview not supported", http.StatusNotFound)
		return
	case err != nil:
		debug.Verbose("Preview failed: %v", err)
		http.Error(w, "preview failed", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

// HandlePhoto handles GET /photos/{name}; only names the relocator produces are served.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := storage.ParseName(name, h.Photos.Ext); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.Photos.Dir, name))
}

// HandleOpenPhotos handles POST /api/photos/open.
func (h *Handlers) HandleOpenPhotos(w http.ResponseWriter, r *http.Request) {
	err := h.Screen.OpenPhotos(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, opener.ErrMissing):
		writeAlert(w, http.StatusNotFound, opener.AlertMessage)
	default:
		writeAlert(w, http.StatusInternalServerError, "Could not open photo directory")
	}
}

// HandleStatusStream handles GET /status/stream for SSE. Log lines are sent
// as default messages, screen changes as "state" events.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	logs, unsubLogs := h.Broadcaster.Subscribe()
	defer unsubLogs()
	states, unsubStates := h.Screen.Subscribe()
	defer unsubStates()

	writeState := func(s screen.State) {
		data, err := json.Marshal(h.view(r.Context(), s))
		if err != nil {
			return
		}
		w.Write([]byte("event: state\ndata: " + string(data) + "\n\n"))
	}

	// Send initial comment and state to establish connection
	w.Write([]byte(": connected\n\n"))
	writeState(h.Screen.Snapshot())
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-logs:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case s, ok := <-states:
			if !ok {
				return
			}
			writeState(s)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
