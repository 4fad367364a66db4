// Package api exposes the ledger over HTTP.
//
// Every ledger route lives under /tenants/{tenant}. The acting user is taken
// from the X-Actor header; authentication happens in front of this server.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tenant-ledger/pkg/directory"
	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/logging"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ActorHeader carries the identity of the caller.
const ActorHeader = "X-Actor"

// Server provides the ledger HTTP endpoints.
type Server struct {
	ledger    *ledger.Ledger
	transfers *ledger.TransferProcessor
	directory *directory.Directory
	router    *mux.Router
	server    *http.Server
	config    ServerConfig
	logger    *logging.Logger

	metricsHandler  http.Handler
	metricsSnapshot func() any
	started         time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Option configures optional endpoints.
type Option func(*Server)

// WithDirectory serves the classification directory routes.
func WithDirectory(d *directory.Directory) Option {
	return func(s *Server) { s.directory = d }
}

// WithMetricsHandler serves h on /metrics, typically promhttp.HandlerFor.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetricsSnapshot serves the value returned by fn as JSON on /metrics/json.
func WithMetricsSnapshot(fn func() any) Option {
	return func(s *Server) { s.metricsSnapshot = fn }
}

// WithLogger sets the logger used for request logs.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the API server for l.
func NewServer(l *ledger.Ledger, config ServerConfig, opts ...Option) *Server {
	s := &Server{
		ledger:    l,
		transfers: ledger.NewTransferProcessor(l),
		config:    config,
		logger:    logging.Global(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	s.router = mux.NewRouter()
	s.router.Use(requestID, s.recovery, s.requestLogger)
	s.routes()

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	if s.metricsSnapshot != nil {
		r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)
	}

	t := r.PathPrefix("/tenants/{tenant}").Subrouter()

	t.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	t.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	t.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods(http.MethodGet)
	t.HandleFunc("/accounts/{id}/deactivate", s.handleDeactivate).Methods(http.MethodPost)
	t.HandleFunc("/accounts/{id}/reactivate", s.handleReactivate).Methods(http.MethodPost)
	t.HandleFunc("/accounts/{id}/balance", s.handleBalance).Methods(http.MethodGet)
	t.HandleFunc("/accounts/{id}/projection", s.handleProjection).Methods(http.MethodGet)
	t.HandleFunc("/accounts/{id}/verify", s.handleVerify).Methods(http.MethodGet)

	t.HandleFunc("/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	t.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	t.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	t.HandleFunc("/transactions/{id}", s.handleUpdateTransaction).Methods(http.MethodPatch)
	t.HandleFunc("/transactions/{id}", s.handleDeleteTransaction).Methods(http.MethodDelete)
	t.HandleFunc("/transactions/{id}/submit", s.handleSubmit).Methods(http.MethodPost)
	t.HandleFunc("/transactions/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	t.HandleFunc("/transactions/{id}/reject", s.handleReject).Methods(http.MethodPost)
	t.HandleFunc("/transactions/{id}/post", s.handlePost).Methods(http.MethodPost)
	t.HandleFunc("/transactions/{id}/void", s.handleVoid).Methods(http.MethodPost)
	t.HandleFunc("/transactions/{id}/attachments", s.handleAttach).Methods(http.MethodPost)
	t.HandleFunc("/transactions/{id}/attachments/{attachment}", s.handleDetach).Methods(http.MethodDelete)

	t.HandleFunc("/transfers", s.handleTransfer).Methods(http.MethodPost)
	t.HandleFunc("/transfers/{id}/post", s.handlePostTransfer).Methods(http.MethodPost)

	if s.directory != nil {
		t.HandleFunc("/directory/{kind}", s.handleRegisterEntry).Methods(http.MethodPost)
		t.HandleFunc("/directory/{kind}", s.handleListEntries).Methods(http.MethodGet)
	}
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("api listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	})
}

// handleMetricsJSON returns the metrics snapshot in JSON format.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metricsSnapshot())
}
