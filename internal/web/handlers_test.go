package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/location"
	"github.com/cjeanneret/snapgo/internal/logic/screen"
	"github.com/cjeanneret/snapgo/internal/metrics"
	"github.com/cjeanneret/snapgo/internal/opener"
	"github.com/cjeanneret/snapgo/internal/permission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeScreen records calls and answers with canned results.
type fakeScreen struct {
	mu    sync.Mutex
	state screen.State
	perm  permission.Status

	grantOnRequest bool
	requests       int
	capturePath    string
	captureErr     error
	frame          []byte
	previewErr     error
	openErr        error
	opens          int

	subs []chan screen.State
}

func newFakeScreen() *fakeScreen {
	return &fakeScreen{state: screen.Initial(camera.FacingBack), perm: permission.Granted}
}

func (f *fakeScreen) Snapshot() screen.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScreen) Permission(context.Context) permission.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm
}

func (f *fakeScreen) RequestPermission(context.Context) permission.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.grantOnRequest {
		f.perm = permission.Granted
	}
	return f.perm
}

func (f *fakeScreen) set(t func(screen.State) screen.State) screen.State {
	f.mu.Lock()
	f.state = t(f.state)
	s := f.state
	subs := append([]chan screen.State(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
	return s
}

func (f *fakeScreen) ToggleFacing() screen.State { return f.set(screen.ToggleFacing) }
func (f *fakeScreen) ToggleFlash() screen.State  { return f.set(screen.ToggleFlash) }

func (f *fakeScreen) Capture(context.Context) (string, error) {
	if f.captureErr != nil {
		return "", f.captureErr
	}
	f.set(func(s screen.State) screen.State { return screen.RecordCapture(s, f.capturePath) })
	return f.capturePath, nil
}

func (f *fakeScreen) Preview(context.Context) ([]byte, error) { return f.frame, f.previewErr }

func (f *fakeScreen) OpenPhotos(context.Context) error {
	f.opens++
	return f.openErr
}

func (f *fakeScreen) Subscribe() (<-chan screen.State, func()) {
	ch := make(chan screen.State, 4)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			for i, c := range f.subs {
				if c == ch {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// ---------- Handler helpers ----------

func newTestHandlers(s Screen, photosDir string) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(NewStatusBroadcaster(), s, PhotoDir{Dir: photosDir, Ext: ".jpg"}, staticFS)
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) StateView {
	t.Helper()
	var v StateView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// ---------- State and toggles ----------

func TestHandleState(t *testing.T) {
	h := newTestHandlers(newFakeScreen(), "")
	w := httptest.NewRecorder()

	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for key, want := range map[string]any{
		"permission":       "granted",
		"facing":           "back",
		"flash":            "off",
		"busy":             false,
		"location_message": location.FetchingMessage,
	} {
		if raw[key] != want {
			t.Errorf("%s = %v, want %v", key, raw[key], want)
		}
	}
	if _, ok := raw["last_photo"]; ok {
		t.Error("last_photo should be absent before the first capture")
	}
}

func TestHandleToggles(t *testing.T) {
	h := newTestHandlers(newFakeScreen(), "")

	w := httptest.NewRecorder()
	h.HandleToggleFacing(w, httptest.NewRequest(http.MethodPost, "/api/facing/toggle", nil))
	if v := decodeView(t, w); v.Facing != camera.FacingFront {
		t.Errorf("facing = %q, want front", v.Facing)
	}

	w = httptest.NewRecorder()
	h.HandleToggleFlash(w, httptest.NewRequest(http.MethodPost, "/api/flash/toggle", nil))
	if v := decodeView(t, w); v.Flash != camera.FlashOn {
		t.Errorf("flash = %q, want on", v.Flash)
	}
}

func TestHandlePermissionRequest(t *testing.T) {
	s := newFakeScreen()
	s.perm = permission.Denied
	h := newTestHandlers(s, "")

	w := httptest.NewRecorder()
	h.HandlePermissionRequest(w, httptest.NewRequest(http.MethodPost, "/api/permission/request", nil))
	if v := decodeView(t, w); v.Permission != permission.Denied {
		t.Errorf("permission = %q, want denied", v.Permission)
	}

	s.grantOnRequest = true
	w = httptest.NewRecorder()
	h.HandlePermissionRequest(w, httptest.NewRequest(http.MethodPost, "/api/permission/request", nil))
	if v := decodeView(t, w); v.Permission != permission.Granted {
		t.Errorf("permission = %q, want granted", v.Permission)
	}
	if s.requests != 2 {
		t.Errorf("requests = %d, want 2", s.requests)
	}
}

func TestView_FlashSuggested(t *testing.T) {
	s := newFakeScreen()
	h := newTestHandlers(s, "")
	st := screen.RecordLocation(s.Snapshot(), location.Reading{Latitude: 1, Longitude: 1}, &location.Daylight{Dark: true})

	if v := h.view(context.Background(), st); !v.FlashSuggested {
		t.Error("flash should be suggested when dark and flash is off")
	}
	if v := h.view(context.Background(), screen.ToggleFlash(st)); v.FlashSuggested {
		t.Error("flash should not be suggested when already on")
	}
}

// ---------- Capture ----------

func TestHandleCapture(t *testing.T) {
	s := newFakeScreen()
	s.capturePath = "/data/photos/1710504000000.jpg"
	h := newTestHandlers(s, "")
	w := httptest.NewRecorder()

	h.HandleCapture(w, httptest.NewRequest(http.MethodPost, "/api/capture", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	v := decodeView(t, w)
	if v.LastPhoto != s.capturePath {
		t.Errorf("last_photo = %q, want %q", v.LastPhoto, s.capturePath)
	}
	if v.LastPhotoURL != "/photos/1710504000000.jpg" {
		t.Errorf("last_photo_url = %q", v.LastPhotoURL)
	}
}

func TestHandleCapture_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no permission", permission.ErrDenied, http.StatusForbidden},
		{"busy", screen.ErrBusy, http.StatusConflict},
		{"camera failure is absorbed", camera.ErrNotReady, http.StatusOK},
		{"storage failure is absorbed", errors.New("disk full"), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeScreen()
			s.captureErr = tc.err
			h := newTestHandlers(s, "")
			w := httptest.NewRecorder()

			h.HandleCapture(w, httptest.NewRequest(http.MethodPost, "/api/capture", nil))

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK {
				if v := decodeView(t, w); v.LastPhoto != "" {
					t.Errorf("last_photo = %q, want unchanged", v.LastPhoto)
				}
			}
		})
	}
}

// ---------- Preview and photos ----------

func TestHandlePreview(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"frame", nil, http.StatusOK},
		{"no permission", permission.ErrDenied, http.StatusForbidden},
		{"unsupported", screen.ErrNoPreview, http.StatusNotFound},
		{"device error", errors.New("busy device"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeScreen()
			s.frame = []byte{0xff, 0xd8, 0xff}
			s.previewErr = tc.err
			w := httptest.NewRecorder()

			newTestHandlers(s, "").HandlePreview(w, httptest.NewRequest(http.MethodGet, "/api/preview.jpg", nil))

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK {
				if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
					t.Errorf("Content-Type = %q", ct)
				}
				if w.Body.Len() != 3 {
					t.Errorf("body length = %d, want 3", w.Body.Len())
				}
			}
		})
	}
}

func TestHandlePhoto(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "1710504000000.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newTestHandlers(newFakeScreen(), dir)

	cases := []struct {
		name string
		want int
	}{
		{"1710504000000.jpg", http.StatusOK},
		{"1710504000001.jpg", http.StatusNotFound},
		{"secret.txt", http.StatusNotFound},
		{"..", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/photos/x", nil)
			req.SetPathValue("name", tc.name)
			w := httptest.NewRecorder()

			h.HandlePhoto(w, req)

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// ---------- Open photos ----------

func TestHandleOpenPhotos(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  int
		wantAlert string
	}{
		{"opened", nil, http.StatusNoContent, ""},
		{"missing directory", opener.ErrMissing, http.StatusNotFound, "Photo directory does not exist"},
		{"launcher failure", errors.New("xdg-open: not found"), http.StatusInternalServerError, "Could not open photo directory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeScreen()
			s.openErr = tc.err
			w := httptest.NewRecorder()

			newTestHandlers(s, "").HandleOpenPhotos(w, httptest.NewRequest(http.MethodPost, "/api/photos/open", nil))

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantAlert == "" {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["alert"] != tc.wantAlert {
				t.Errorf("alert = %q, want %q", body["alert"], tc.wantAlert)
			}
		})
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(newFakeScreen(), "")
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Server ----------

func newTestServer(t *testing.T, s Screen) (*httptest.Server, *StatusBroadcaster) {
	t.Helper()
	reg := prometheus.NewRegistry()
	if _, err := metrics.New(reg); err != nil {
		t.Fatal(err)
	}
	b := NewStatusBroadcaster()
	srv, err := NewServer("127.0.0.1:0", b, s, PhotoDir{Dir: t.TempDir(), Ext: ".jpg"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts, b
}

func TestServer_Routes(t *testing.T) {
	ts, _ := newTestServer(t, newFakeScreen())

	cases := []struct {
		method, path string
		want         int
		contains     string
	}{
		{http.MethodGet, "/", http.StatusOK, "SnapGo"},
		{http.MethodGet, "/static/app.js", http.StatusOK, "EventSource"},
		{http.MethodGet, "/api/state", http.StatusOK, `"facing":"back"`},
		{http.MethodGet, "/metrics", http.StatusOK, "snapgo_capture_duration_seconds"},
		{http.MethodGet, "/api/capture", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if tc.contains != "" && !strings.Contains(string(body), tc.contains) {
				t.Errorf("body does not contain %q", tc.contains)
			}
		})
	}
}

func TestHandleStatusStream(t *testing.T) {
	s := newFakeScreen()
	ts, b := newTestServer(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/status/stream", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	next := func(prefix string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-deadline:
				t.Fatalf("timeout waiting for %q", prefix)
			}
		}
	}

	// Initial state.
	next("event: state")
	if l := next("data: "); !strings.Contains(l, `"flash":"off"`) {
		t.Errorf("initial state = %s", l)
	}

	// Subscriptions are in place once the initial state has been sent.
	s.ToggleFlash()
	next("event: state")
	if l := next("data: "); !strings.Contains(l, `"flash":"on"`) {
		t.Errorf("toggled state = %s", l)
	}

	b.Broadcast("info", "Photo saved")
	if l := next("data: "); !strings.Contains(l, "Photo saved") {
		t.Errorf("log line = %s", l)
	}

	cancel()
	for range lines {
	}
}
