// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spanlight/spanlight/internal/api/alerts"
	"github.com/spanlight/spanlight/internal/api/health"
	"github.com/spanlight/spanlight/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address             string
	JWTSecret           []byte
	AdminAPIKey         string // Admin credential for the token exchange; empty disables admin tokens
	HTTPTLSEnabled      bool   // Enable HTTPS for the API server
	HTTPTLSCertFile     string // HTTPS certificate file
	HTTPTLSKeyFile      string // HTTPS private key file
	TokenTTL            time.Duration
	RateLimitPerIP      int
	RateLimitPerProject int
	MaxQueryRange       time.Duration // Max allowed span query range
	QueryTimeout        time.Duration // Timeout for storage-backed API calls
	InvestigateTimeout  time.Duration // Timeout for ad-hoc investigations
	Verbose             bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 10 // 10 token exchanges per 15 minutes
	}
	if c.RateLimitPerProject == 0 {
		c.RateLimitPerProject = 100 // 100 requests per minute
	}
	if c.MaxQueryRange == 0 {
		c.MaxQueryRange = 24 * time.Hour
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.InvestigateTimeout == 0 {
		c.InvestigateTimeout = 2 * time.Minute
	}
}

// Investigation bundles the collaborators behind the investigate
// endpoint: the metric source that re-reads the alert's window, the
// trace analyzer, and the code correlator. Nil fields disable the
// endpoint; the rest of the API works without them.
type Investigation struct {
	MetricSource alerts.MetricSource
	Analyzer     alerts.Analyzer
	Correlator   alerts.Correlator
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	spanStorage   storage.SpanStorage
	buffer        *storage.SpanBuffer
	investigation Investigation
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
// spanStore and buffer can be nil if ClickHouse is disabled; span
// query and ingestion then answer 503.
func New(cfg *Config, store storage.Storage, spanStore storage.SpanStorage, buffer *storage.SpanBuffer, inv Investigation) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		spanStorage:   spanStore,
		buffer:        buffer,
		investigation: inv,
		healthHandler: health.NewHandler(),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout is intentionally 0 (disabled) because the server
		// supports SSE streams that can last up to 30 minutes. A global
		// WriteTimeout would prematurely kill those long-lived connections.
		// Individual non-streaming handlers use context deadlines to bound
		// response time.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
