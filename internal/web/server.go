package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/imagesource/local"
	"github.com/vbonduro/imagelab/internal/registry"
	"github.com/vbonduro/imagelab/internal/session"
)

// healthChecker is the subset of dispatch.Client the server requires.
type healthChecker interface {
	HealthAll(ctx context.Context) []dispatch.HealthStatus
}

// imageLibrary is the subset of local.Library the server requires.
type imageLibrary interface {
	List(ctx context.Context) ([]local.Entry, error)
	Open(ctx context.Context, name string) (*imagesource.Image, error)
}

type Server struct {
	session       *session.Controller
	registry      *registry.Registry
	hub           *Hub
	health        healthChecker
	library       imageLibrary
	maxImageBytes int64
	mux           *http.ServeMux
	logger        *slog.Logger
}

// NewServer builds the JSON command API. hub must be the one passed as the
// controller's OnChange; library may be nil.
func NewServer(ctrl *session.Controller, reg *registry.Registry, hub *Hub, health healthChecker, library imageLibrary, maxImageBytes int64, logger *slog.Logger) *Server {
	s := &Server{
		session:       ctrl,
		registry:      reg,
		hub:           hub,
		health:        health,
		library:       library,
		maxImageBytes: maxImageBytes,
		mux:           http.NewServeMux(),
		logger:        logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/services", s.handleListServices)
	s.mux.HandleFunc("PUT /api/service", s.handleSelectService)
	s.mux.HandleFunc("POST /api/image", s.handleUploadImage)
	s.mux.HandleFunc("DELETE /api/image", s.handleRemoveImage)
	s.mux.HandleFunc("GET /api/library", s.handleListLibrary)
	s.mux.HandleFunc("POST /api/library/{name}", s.handleOpenLibraryImage)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/ask", s.handleAsk)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("DELETE /api/notice", s.handleDismissNotice)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
