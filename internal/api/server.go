package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	// AdminToken guards the audit log. Empty disables the endpoint.
	AdminToken string
}

// Integrations is the integration lifecycle the server exposes.
type Integrations interface {
	CreateIntegration(ctx context.Context) (models.RedirectDescriptor, error)
	Authorize(ctx context.Context, compact, code, state string) (string, error)
	Authenticate(ctx context.Context, compact string) (string, error)
	Revoke(ctx context.Context, compact string) error
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Store is what the server reads directly for health and gauges.
type Store interface {
	Ping(ctx context.Context) error
	CountIntegrations(ctx context.Context) (int64, error)
}

// Server is the API server.
type Server struct {
	integrations Integrations
	auditor      AuditLogger
	store        Store
	validate     *validator.Validate
	cfg          Config
	httpSrv      *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server.
func NewServer(integrations Integrations, auditor AuditLogger, store Store, cfg Config) *Server {
	s := &Server{
		integrations: integrations,
		auditor:      auditor,
		store:        store,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		cfg:          cfg,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(accessLogMiddleware)

	r.Handle("/metrics", s.metricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	r.Route("/v1/integrations", func(r chi.Router) {
		r.Post("/", s.CreateIntegrationHandler)
		r.Get("/authorize/{token}", s.AuthorizeHandler)
		r.Get("/credential", s.AuthenticateHandler)
		r.Delete("/", s.RevokeHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(adminMiddleware(s.cfg.AdminToken))
		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
	})

	return r
}

// Start begins listening on the configured address and blocks until the
// server stops. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.httpSrv.Handler = s.BuildRouter()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTPS server")
		err = s.httpSrv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		err = s.httpSrv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound listen address, or "" before Start has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server. A later Start returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
