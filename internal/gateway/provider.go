package gateway

import (
	"context"
	"time"

	"github.com/nft-syncer/internal/types"
)

// Provider is the "fetch NFT by contract+token" capability of one data source
type Provider interface {
	Name() string
	GetNFT(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (*types.NFT, error)
	GetNFTsByContract(ctx context.Context, chain types.ChainInfo, contract, cursor string, limit int) (*types.NFTPage, error)
	GetCollectionStats(ctx context.Context, chain types.ChainInfo, contract string) (*types.CollectionStats, error)
	GetTotalOwners(ctx context.Context, chain types.ChainInfo, contract, tokenID string) (int64, error)
}

// Config configures the provider adapters
type Config struct {
	MoralisAPIKey  string
	AlchemyAPIKey  string
	NFTScanAPIKey  string
	IPFSGateway    string
	RequestsPerSec float64
	Timeout        time.Duration

	// Base URL overrides. Empty values use the public provider hosts.
	MoralisBaseURL string
	AlchemyBaseURL string
	NFTScanBaseURL string
}

// DefaultIPFSGateway is used when no gateway is configured
const DefaultIPFSGateway = "https://ipfs.io/ipfs/"

const defaultPageSize = 100
