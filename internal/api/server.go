// Package api exposes the filesystem engine over the JSON HTTP surface.
// Authentication happens outside the engine: the embedder supplies an
// Authenticator that turns a request into an already-verified principal.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wukibaka/cloudpaste/internal/config"
	"github.com/wukibaka/cloudpaste/internal/vfs"
	ferrors "github.com/wukibaka/cloudpaste/pkg/errors"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// Authenticator resolves the principal of a request. Returning an error
// yields 401.
type Authenticator func(r *http.Request) (types.Principal, error)

// Server serves the /api/fs surface.
type Server struct {
	httpServer *http.Server
	fs         *vfs.FileSystem
	auth       Authenticator
	cfg        config.ServerConfig
	logger     *slog.Logger
}

// Options carries the optional collaborators of a server.
type Options struct {
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	// WebDAV, when set, is mounted at its prefix.
	WebDAV       http.Handler
	WebDAVPrefix string
}

// NewServer wires the mux and middleware.
func NewServer(cfg config.ServerConfig, fs *vfs.FileSystem, auth Authenticator, opts Options) *Server {
	s := &Server{
		fs:     fs,
		auth:   auth,
		cfg:    cfg,
		logger: slog.Default().With("component", "api"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/fs/list", s.requireMethod(http.MethodGet, s.handleList))
	mux.HandleFunc("/api/fs/info", s.requireMethod(http.MethodGet, s.handleInfo))
	mux.HandleFunc("/api/fs/download", s.requireMethod(http.MethodGet, s.handleDownload))
	mux.HandleFunc("/api/fs/preview", s.requireMethod(http.MethodGet, s.handlePreview))
	mux.HandleFunc("/api/fs/upload", s.requireMethod(http.MethodPost, s.handleUpload))
	mux.HandleFunc("/api/fs/mkdir", s.requireMethod(http.MethodPost, s.handleMkdir))
	mux.HandleFunc("/api/fs/remove", s.requireMethod(http.MethodDelete, s.handleRemove))
	mux.HandleFunc("/api/fs/rename", s.requireMethod(http.MethodPost, s.handleRename))
	mux.HandleFunc("/api/fs/copy", s.requireMethod(http.MethodPost, s.handleCopy))
	mux.HandleFunc("/api/fs/batch-remove", s.requireMethod(http.MethodPost, s.handleBatchRemove))
	mux.HandleFunc("/api/fs/batch-copy", s.requireMethod(http.MethodPost, s.handleBatchCopy))
	mux.HandleFunc("/api/fs/presign", s.requireMethod(http.MethodPost, s.handlePresign))
	mux.HandleFunc("/api/fs/search", s.requireMethod(http.MethodGet, s.handleSearch))

	mux.HandleFunc("/api/fs/mpu/init", s.requireMethod(http.MethodPost, s.handleMultipartInit))
	mux.HandleFunc("/api/fs/mpu/part-urls", s.requireMethod(http.MethodPost, s.handleMultipartRefresh))
	mux.HandleFunc("/api/fs/mpu/complete", s.requireMethod(http.MethodPost, s.handleMultipartComplete))
	mux.HandleFunc("/api/fs/mpu/abort", s.requireMethod(http.MethodPost, s.handleMultipartAbort))
	mux.HandleFunc("/api/fs/mpu/list", s.requireMethod(http.MethodGet, s.handleMultipartList))
	mux.HandleFunc("/api/fs/mpu/parts", s.requireMethod(http.MethodGet, s.handleMultipartParts))
	mux.HandleFunc("/api/fs/mpu/refresh", s.requireMethod(http.MethodPost, s.handleMultipartRefresh))

	mux.HandleFunc("/health", s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.WebDAV != nil && opts.WebDAVPrefix != "" {
		mux.Handle(opts.WebDAVPrefix, opts.WebDAV)
		mux.Handle(opts.WebDAVPrefix+"/", opts.WebDAV)
	}

	handler := s.loggingMiddleware(s.corsMiddleware(s.timeoutMiddleware(mux)))

	s.httpServer = &http.Server{
		Addr:        cfg.Address,
		Handler:     handler,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
		// WriteTimeout stays unset: downloads stream without a deadline.
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "address", s.cfg.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Middleware

func (s *Server) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// timeoutMiddleware bounds control-plane requests. Downloads, previews and
// every path outside /api/ (WebDAV, /health, /metrics) run without this
// deadline.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streaming := strings.HasPrefix(r.URL.Path, "/api/fs/download") ||
			strings.HasPrefix(r.URL.Path, "/api/fs/preview") ||
			!strings.HasPrefix(r.URL.Path, "/api/")
		if s.cfg.ControlTimeout > 0 && !streaming {
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ControlTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", s.cfg.CORSHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal authenticates the request, writing 401 on failure.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	p, err := s.auth(r)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "unauthenticated")
		return types.Principal{}, false
	}
	return p, true
}

// Response helpers

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{"error": message})
}

// respondEngineError maps a typed engine error onto its HTTP status.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	status := ferrors.HTTPStatusOf(err)
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	s.respondJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  string(ferrors.KindOf(err)),
	})
}
