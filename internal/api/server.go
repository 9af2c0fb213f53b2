package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  ServerConfig
}

// ServerConfig is the listener configuration plus the metrics registry
// exposed on /metrics. A nil Registry disables the endpoint.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Registry     *prometheus.Registry
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(middleware.RealIP)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(CORSMiddleware)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if cfg.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	// Online check
	router.Post("/aml-checks", handler.AMLCheck)

	// Wallet analysis
	router.Route("/wallets/{address}", func(r chi.Router) {
		r.Post("/evaluate", handler.EvaluateWallet)
		r.Get("/metrics", handler.WalletMetrics)
	})

	// History
	router.Post("/transactions", handler.CreateTransactions)
	router.Post("/transactions/upload", handler.UploadTransactions)
	router.Get("/transactions/{id}", handler.GetTransaction)

	// Batch analysis
	router.Post("/batch", handler.CreateBatch)
	router.Get("/batch/{id}", handler.GetBatch)

	router.Get("/rules", handler.ListRules)
	router.Get("/assessments/{id}", handler.GetAssessment)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
