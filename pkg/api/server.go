// Package api exposes the transaction engine over HTTP. Amounts cross
// this boundary as decimal values and are converted to minor units
// before they reach the engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/logging"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TransactionEngine is the operation contract the API serves.
type TransactionEngine interface {
	Deposit(ctx context.Context, accountID int64, amount int64) engine.Result
	Transfer(ctx context.Context, payerID, payeeID int64, amount int64) engine.Result
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// RequestTimeout bounds each operation's handling time.
	RequestTimeout time.Duration
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Server serves deposits and transfers plus health and metrics
// endpoints.
type Server struct {
	engine TransactionEngine
	server *http.Server
	logger *logging.Logger
	config ServerConfig
}

// NewServer creates the API server. metricsHandler serves GET /metrics
// and may be nil when metrics are not exposed.
func NewServer(e TransactionEngine, metricsHandler http.Handler, logger *logging.Logger, config ServerConfig) *Server {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	s := &Server{
		engine: e,
		logger: logger.Named("api"),
		config: config,
	}

	router := mux.NewRouter()
	router.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	router.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	router.Use(s.requestLogging)

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", zap.Error(err))
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
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
