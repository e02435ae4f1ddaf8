package mapview

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/skypies/geo"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
)

// ViewConfig is the initial map view handed to browsers.
type ViewConfig struct {
	Center     geo.Latlong
	Zoom       int
	TileSource string
}

type viewResponse struct {
	Center      [2]float64 `json:"center"` // lat, long
	Zoom        int        `json:"zoom"`
	TileSource  string     `json:"tileSource"`
	Attribution string     `json:"attribution"`
}

// Options configures a Server.
type Options struct {
	Addr    string
	View    ViewConfig
	Logger  logging.Logger
	Metrics http.Handler // served at /metrics when set
	Ready   func() bool  // /readyz reports 503 until it returns true
}

// Server exposes a Layer over HTTP.
type Server struct {
	layer *Layer
	view  ViewConfig
	log   logging.Logger
	hub   *hub
	http  *http.Server

	mu          sync.RWMutex
	attribution string

	stopHub context.CancelFunc
	hubDone chan struct{}
}

// NewServer builds the HTTP surface for layer and starts its websocket hub.
// Call Close (or Run) to stop it.
func NewServer(layer *Layer, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		layer:   layer,
		view:    opts.View,
		log:     log.With(logging.String("component", "mapview")),
		hubDone: make(chan struct{}),
	}
	s.hub = newHub(layer, s.log, s.Attribution)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", readyz(opts.Ready))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	mux.HandleFunc("GET /api/v1/view", s.handleView)
	mux.HandleFunc("GET /api/v1/features", s.handleFeatures)
	mux.HandleFunc("GET /api/v1/orbit", s.handleOrbit)
	mux.HandleFunc("GET /api/v1/ws", s.hub.serveWS)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           loggingMiddleware(s.log)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go func() {
		defer close(s.hubDone)
		s.hub.run(ctx)
	}()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// SetAttribution sets the feed credit shown on the map.
func (s *Server) SetAttribution(a string) {
	s.mu.Lock()
	s.attribution = a
	s.mu.Unlock()
	s.layer.notify()
}

// Attribution returns the current feed credit.
func (s *Server) Attribution() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attribution
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "map server listening", logging.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close stops the websocket hub and disconnects its clients.
func (s *Server) Close() {
	s.stopHub()
	<-s.hubDone
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewResponse{
		Center:      [2]float64{s.view.Center.Lat, s.view.Center.Long},
		Zoom:        s.view.Zoom,
		TileSource:  s.view.TileSource,
		Attribution: s.Attribution(),
	})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	raw, err := s.layer.FeatureCollection().MarshalJSON()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(raw)
}

func (s *Server) handleOrbit(w http.ResponseWriter, r *http.Request) {
	raw := s.layer.OrbitJSON()
	if raw == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(raw)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func readyz(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func loggingMiddleware(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", sr.statusCode),
				logging.Duration("duration", time.Since(start)),
				logging.String("remote_addr", r.RemoteAddr),
			}
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
				log.Debug(r.Context(), "request", fields...)
				return
			}
			log.Info(r.Context(), "request", fields...)
		})
	}
}
