// Package app wires the shared runtime of every binary: stores, cache, RPC rotation,
// chain reader, metadata gateway, failure tracker and the reconciliation service.
package app

import (
	"context"
	"fmt"

	"github.com/nft-syncer/internal/chain"
	"github.com/nft-syncer/internal/config"
	"github.com/nft-syncer/internal/failure"
	"github.com/nft-syncer/internal/gateway"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/queue"
	"github.com/nft-syncer/internal/reconcile"
	"github.com/nft-syncer/internal/rpc"
	"github.com/nft-syncer/internal/storage"
)

// App holds the long-lived components built from configuration
type App struct {
	Config      *config.Config
	Postgres    *storage.PostgresDB
	Redis       *storage.RedisCache
	Registry    *rpc.EndpointRegistry
	Pool        *rpc.ClientPool
	Reader      *chain.Reader
	Gateway     *gateway.Gateway
	Checkpoints *storage.CheckpointRepository
	Tracker     *failure.Tracker
	Traits      *queue.TaskQueue
	Service     *reconcile.Service
}

// InitLogging configures the global logger from cfg
func InitLogging(cfg *config.Config) {
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
}

// New connects to Postgres and Redis and builds every component. The trait queue is
// started on ctx.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.Component("app")

	pg, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	registry := rpc.NewEndpointRegistry()
	for _, name := range cfg.Chains.Enabled {
		cc := cfg.Chains.Chains[name]
		registry.Register(cc.ID, cc.RPCURLs, cc.PublicRPCURLs, cc.EventRPCURLs)
		log.WithFields(map[string]interface{}{
			"chain":   name,
			"default": len(cc.RPCURLs),
			"public":  len(cc.PublicRPCURLs),
			"event":   len(cc.EventRPCURLs),
		}).Info("Registered RPC endpoints")
	}

	pool := rpc.NewClientPool()
	callerCfg := rpc.DefaultCallerConfig()
	callerCfg.MaxRetries = cfg.RPC.MaxRetries
	callerCfg.SwapStep = cfg.RPC.SwapStep
	callerCfg.AttemptTimeout = cfg.RPC.AttemptTimeout
	reader := chain.NewReader(rpc.NewCaller(registry, pool, callerCfg), redis)

	gw := gateway.New(gateway.Config{
		MoralisAPIKey:  cfg.Providers.MoralisAPIKey,
		AlchemyAPIKey:  cfg.Providers.AlchemyAPIKey,
		NFTScanAPIKey:  cfg.Providers.NFTScanAPIKey,
		IPFSGateway:    cfg.Providers.IPFSGateway,
		RequestsPerSec: cfg.Providers.RequestsPerSec,
		Timeout:        cfg.Providers.HTTPTimeout,
	}, reader)

	tracker := failure.NewTracker(storage.NewFailureRepository(pg), redis)

	traits := queue.NewTaskQueue("traits", cfg.Workers.TraitQueueSize, cfg.Workers.TraitWorkers)
	traits.Start(ctx)

	contracts := storage.NewContractRepository(pg)
	service := reconcile.NewService(reconcile.Stores{
		Assets:     storage.NewAssetRepository(pg),
		Contracts:  contracts,
		Ownerships: storage.NewOwnershipRepository(pg),
		Traits:     storage.NewTraitRepository(pg),
		Orders:     storage.NewOrderRepository(pg),
	}, gw, reader, tracker, traits)

	return &App{
		Config:      cfg,
		Postgres:    pg,
		Redis:       redis,
		Registry:    registry,
		Pool:        pool,
		Reader:      reader,
		Gateway:     gw,
		Checkpoints: storage.NewCheckpointRepository(pg),
		Tracker:     tracker,
		Traits:      traits,
		Service:     service,
	}, nil
}

// SyncQueue returns the Redis-backed sync request queue
func (a *App) SyncQueue() *queue.RedisSyncQueue {
	return queue.NewRedisSyncQueue(a.Redis.Client(), queue.DefaultSyncQueueKey)
}

// Close drains the trait queue and releases every connection
func (a *App) Close() {
	a.Traits.Stop()
	a.Pool.Close()
	if err := a.Redis.Close(); err != nil {
		logging.Component("app").WithError(err).Warn("Error closing Redis")
	}
	a.Postgres.Close()
}
