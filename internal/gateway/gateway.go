package gateway

import (
	"context"
	"errors"

	"github.com/nft-syncer/internal/circuitbreaker"
	synerr "github.com/nft-syncer/internal/errors"
	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
	"github.com/nft-syncer/internal/types"
)

// Gateway routes NFT reads to the provider statically assigned to each chain.
// Chains whose provider is not configured are served on-chain.
// Each third-party provider sits behind its own circuit breaker.
type Gateway struct {
	providers map[types.ProviderKind]Provider
	breakers  map[string]*circuitbreaker.CircuitBreaker
	onchain   *OnchainProvider
	log       *logging.Logger
}

// New builds every provider with a configured API key plus the on-chain provider
func New(cfg Config, reader ChainReader) *Gateway {
	providers := make(map[types.ProviderKind]Provider)
	if cfg.MoralisAPIKey != "" {
		providers[types.ProviderMoralis] = NewMoralisProvider(cfg)
	}
	if cfg.AlchemyAPIKey != "" {
		providers[types.ProviderAlchemy] = NewAlchemyProvider(cfg)
	}
	if cfg.NFTScanAPIKey != "" {
		providers[types.ProviderNFTScan] = NewNFTScanProvider(cfg)
	}
	return NewWithProviders(providers, NewOnchainProvider(reader, cfg))
}

// NewWithProviders creates a gateway over explicit providers
func NewWithProviders(providers map[types.ProviderKind]Provider, onchain *OnchainProvider) *Gateway {
	if providers == nil {
		providers = make(map[types.ProviderKind]Provider)
	}
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		cfg := circuitbreaker.DefaultConfig("provider-" + p.Name())
		cfg.IsFailure = synerr.IsRetryable
		name := p.Name()
		cfg.OnStateChange = func(_ string, state circuitbreaker.State) {
			metrics.ProviderCircuitState(name, string(state))
		}
		breakers[name] = circuitbreaker.NewCircuitBreaker(cfg)
	}
	return &Gateway{
		providers: providers,
		breakers:  breakers,
		onchain:   onchain,
		log:       logging.Component("gateway"),
	}
}

// guarded runs a provider call through the provider's breaker. An open
// circuit fails fast with a transient error so callers fall back on-chain.
func guarded[T any](g *Gateway, p Provider, fn func() (T, error)) (T, error) {
	cb, ok := g.breakers[p.Name()]
	if !ok {
		v, err := fn()
		return v, wrapProviderError(p, err)
	}
	var v T
	err := cb.Execute(func() error {
		var err error
		v, err = fn()
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return v, synerr.Wrap(synerr.KindTransient, synerr.CodeProviderError, "provider "+p.Name()+" unavailable", err)
	}
	return v, wrapProviderError(p, err)
}

// BreakerStats reports the circuit state of every third-party provider
func (g *Gateway) BreakerStats() map[string]*circuitbreaker.Stats {
	out := make(map[string]*circuitbreaker.Stats, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = cb.GetStats()
	}
	return out
}

func (g *Gateway) route(chainID types.ChainID) (types.ChainInfo, Provider, error) {
	info, ok := types.LookupChain(chainID)
	if !ok {
		return types.ChainInfo{}, nil, synerr.NewUnsupportedChainError(chainID)
	}
	if p, ok := g.providers[info.Provider]; ok {
		return info, p, nil
	}
	if g.onchain == nil {
		return info, nil, synerr.New(synerr.KindUnsupported, synerr.CodeProviderError, "no provider for chain "+info.Name)
	}
	return info, g.onchain, nil
}

func wrapProviderError(p Provider, err error) error {
	if err == nil {
		return nil
	}
	var se *synerr.SyncError
	if errors.As(err, &se) {
		return se
	}
	return synerr.NewProviderError(p.Name(), err)
}

// GetNFT fetches one token from the chain's provider
func (g *Gateway) GetNFT(ctx context.Context, chainID types.ChainID, contract, tokenID string) (*types.NFT, error) {
	info, p, err := g.route(chainID)
	if err != nil {
		return nil, err
	}
	return guarded(g, p, func() (*types.NFT, error) {
		return p.GetNFT(ctx, info, types.NormalizeAddress(contract), tokenID)
	})
}

// GetNFTOnchain reads one token straight from the chain over the class endpoints
func (g *Gateway) GetNFTOnchain(ctx context.Context, chainID types.ChainID, contract, tokenID string, class types.TrafficClass) (*types.NFT, error) {
	info, ok := types.LookupChain(chainID)
	if !ok {
		return nil, synerr.NewUnsupportedChainError(chainID)
	}
	if g.onchain == nil {
		return nil, synerr.New(synerr.KindUnsupported, synerr.CodeProviderError, "on-chain reads are not configured")
	}
	nft, err := g.onchain.GetNFTWithClass(ctx, info, types.NormalizeAddress(contract), tokenID, class)
	if err != nil {
		return nil, wrapProviderError(g.onchain, err)
	}
	return nft, nil
}

// GetNFTsByContract returns one page of a contract's tokens
func (g *Gateway) GetNFTsByContract(ctx context.Context, chainID types.ChainID, contract, cursor string, limit int) (*types.NFTPage, error) {
	info, p, err := g.route(chainID)
	if err != nil {
		return nil, err
	}
	return guarded(g, p, func() (*types.NFTPage, error) {
		return p.GetNFTsByContract(ctx, info, types.NormalizeAddress(contract), cursor, limit)
	})
}

// GetCollectionStats returns the provider's collection statistics
func (g *Gateway) GetCollectionStats(ctx context.Context, chainID types.ChainID, contract string) (*types.CollectionStats, error) {
	info, p, err := g.route(chainID)
	if err != nil {
		return nil, err
	}
	return guarded(g, p, func() (*types.CollectionStats, error) {
		return p.GetCollectionStats(ctx, info, types.NormalizeAddress(contract))
	})
}

// GetTotalOwners returns the number of distinct holders of a token
func (g *Gateway) GetTotalOwners(ctx context.Context, chainID types.ChainID, contract, tokenID string) (int64, error) {
	info, p, err := g.route(chainID)
	if err != nil {
		return 0, err
	}
	return guarded(g, p, func() (int64, error) {
		return p.GetTotalOwners(ctx, info, types.NormalizeAddress(contract), tokenID)
	})
}

// ProviderFor names the provider a chain is routed to
func (g *Gateway) ProviderFor(chainID types.ChainID) string {
	_, p, err := g.route(chainID)
	if err != nil {
		return ""
	}
	return p.Name()
}
