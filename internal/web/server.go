package web

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	gatherer prometheus.Gatherer
}

// NewServer creates a server configured for the given address and dependencies.
// gatherer may be nil, in which case /metrics is not exposed.
func NewServer(addr string, broadcaster *StatusBroadcaster, s Screen, photos PhotoDir, gatherer prometheus.Gatherer) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, s, photos, subFS),
		gatherer: gatherer,
	}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.handlers.HandleState)
	mux.HandleFunc("POST /api/permission/request", s.handlers.HandlePermissionRequest)
	mux.HandleFunc("POST /api/facing/toggle", s.handlers.HandleToggleFacing)
	mux.HandleFunc("POST /api/flash/toggle", s.handlers.HandleToggleFlash)
	mux.HandleFunc("POST /api/capture", s.handlers.HandleCapture)
	mux.HandleFunc("GET /api/preview.jpg", s.handlers.HandlePreview)
	mux.HandleFunc("POST /api/photos/open", s.handlers.HandleOpenPhotos)
	mux.HandleFunc("GET /photos/{name}", s.handlers.HandlePhoto)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}
