// Package server provides the HTTP API for facegate.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/auth"
	"github.com/hyperjump/facegate/internal/config"
	"github.com/hyperjump/facegate/internal/metrics"
)

// maxBodyBytes bounds request bodies; base64 photos are large but not unbounded.
const maxBodyBytes = 16 << 20

// Server is the HTTP server for the facegate API.
type Server struct {
	auth    *auth.Service
	config  *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. m may be nil, in which case
// /metrics is not served.
func NewServer(svc *auth.Service, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		auth:    svc,
		config:  cfg,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Timeout(timeout))

	r.Get("/", s.handleRoot)
	r.Post("/register", s.handleRegister)
	r.Post("/verify", s.handleVerify)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/identities/{id}", s.handleGetIdentity)
		r.Delete("/identities/{id}", s.handleDeleteIdentity)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
