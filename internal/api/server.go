// Package api provides the ops HTTP server: health, checkpoint lag, manual refresh and
// ownership correction, collection suspension status and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nft-syncer/internal/circuitbreaker"
	"github.com/nft-syncer/internal/failure"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/reconcile"
	"github.com/nft-syncer/internal/types"
)

// SyncService is the reconciliation surface exposed over HTTP
type SyncService interface {
	SyncAssetOnChain(ctx context.Context, key types.AssetKey, opts reconcile.SyncOptions) (*models.Asset, error)
	TransferAssetOwnershipOnchain(ctx context.Context, p reconcile.TransferParams) (bool, error)
}

// CheckpointLister lists poller checkpoints
type CheckpointLister interface {
	List(ctx context.Context) ([]*models.Checkpoint, error)
}

// HeadReader returns the current head block of a chain
type HeadReader interface {
	LatestBlock(ctx context.Context, chainID types.ChainID) (uint64, error)
}

// SuspensionReader reports the failure state of a collection
type SuspensionReader interface {
	State(ctx context.Context, chainID types.ChainID, contract string) (*failure.CollectionState, error)
}

// ProviderHealth reports the circuit state of the metadata providers
type ProviderHealth interface {
	BreakerStats() map[string]*circuitbreaker.Stats
}

// Server represents the ops HTTP server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	sync        SyncService
	checkpoints CheckpointLister
	heads       HeadReader
	suspensions SuspensionReader
	providers   ProviderHealth
	config      *ServerConfig
	logger      *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	WriteRPS        int // refresh and transfer requests per second per client
}

// NewServer creates a new ops server instance.
// providers may be nil.
func NewServer(config *ServerConfig, sync SyncService, checkpoints CheckpointLister, heads HeadReader, suspensions SuspensionReader, providers ProviderHealth) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		sync:        sync,
		checkpoints: checkpoints,
		heads:       heads,
		suspensions: suspensions,
		providers:   providers,
		config:      config,
		logger:      logging.Component("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/checkpoints", s.handleListCheckpoints).Methods("GET")
	api.HandleFunc("/collections/{chainId}/{contract}/suspension", s.handleGetSuspension).Methods("GET")

	// write endpoints hit providers and RPC, so they are rate limited per client
	writes := api.NewRoute().Subrouter()
	writes.Use(RateLimitMiddleware(NewRateLimiter(s.config.WriteRPS)))
	writes.HandleFunc("/assets/{chainId}/{contract}/{tokenId}/refresh", s.handleRefreshAsset).Methods("POST")
	writes.HandleFunc("/ownership/transfer", s.handleTransferOwnership).Methods("POST")
}

// Handler returns the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting ops server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ops server")
	return s.httpServer.Shutdown(ctx)
}
