// Package server exposes a sealed index as a read-only query surface: a
// REST endpoint, a WebSocket stream for repeated queries over one
// connection, an optional GraphQL endpoint, and a Prometheus /_metrics
// endpoint. It owns no write path — building an index is cmd/forumidx's
// job, not this package's.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnohosten/forumidx/pkg/engine"
	"github.com/mnohosten/forumidx/pkg/metrics"
)

// Server is the HTTP query surface for one sealed index.
type Server struct {
	config    *Config
	evaluator *engine.Evaluator
	metrics   *metrics.Collector
	router    *chi.Mux
	httpSrv   *http.Server
	startTime time.Time
}

// New opens the index at config.DataDir read-only and wires the HTTP
// server around it.
func New(config *Config) (*Server, error) {
	if config.EnableTLS {
		if config.TLSCertFile == "" || config.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS enabled but certificate or key file not specified")
		}
		if _, err := os.Stat(config.TLSCertFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS certificate file not found: %s", config.TLSCertFile)
		}
		if _, err := os.Stat(config.TLSKeyFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("TLS key file not found: %s", config.TLSKeyFile)
		}
	}

	collector := metrics.NewCollector("forumidx")
	engineCfg := engine.DefaultConfig(config.DataDir)
	engineCfg.Metrics = collector

	evaluator, err := engine.OpenEvaluator(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed index: %w", err)
	}

	srv := &Server{
		config:    config,
		evaluator: evaluator,
		metrics:   collector,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()
	if config.EnableGraphQL {
		if err := srv.setupGraphQLRoutes(); err != nil {
			evaluator.Close()
			return nil, fmt.Errorf("failed to setup GraphQL routes: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/_health", s.jsonContentType(s.handleHealth))
	s.router.Get("/_metrics", s.metrics.Handler().ServeHTTP)

	s.router.Route("/query", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Post("/", s.handleQuery)
		r.Get("/stream", s.handleQueryStream)
	})
}

func (s *Server) setupGraphQLRoutes() error {
	handler, err := newGraphQLHandler(s.evaluator, s.config)
	if err != nil {
		return fmt.Errorf("failed to create GraphQL handler: %w", err)
	}
	s.router.Post("/graphql", handler.ServeHTTP)
	s.router.Get("/graphiql", graphiQLHandler())
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) jsonContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// Start serves HTTP until an OS signal or a listener error, then shuts
// down gracefully.
func (s *Server) Start() error {
	protocol := "http"
	if s.config.EnableTLS {
		protocol = "https"
		fmt.Printf("TLS enabled, certificate: %s\n", s.config.TLSCertFile)
	}
	fmt.Printf("forumidx query server starting on %s://%s:%d\n", protocol, s.config.Host, s.config.Port)
	fmt.Printf("index directory: %s\n", s.config.DataDir)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpSrv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		fmt.Printf("\nreceived signal: %v\n", sig)
		return s.Shutdown()
	}
}

// Evaluator exposes the underlying query evaluator, e.g. for tests that
// want to bypass HTTP.
func (s *Server) Evaluator() *engine.Evaluator { return s.evaluator }

// Shutdown stops accepting new connections, waits for in-flight requests,
// and closes the underlying index.
func (s *Server) Shutdown() error {
	fmt.Println("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		fmt.Printf("server shutdown error: %v\n", err)
	}
	if err := s.evaluator.Close(); err != nil {
		fmt.Printf("index close error: %v\n", err)
		return err
	}
	fmt.Println("shutdown complete")
	return nil
}
