// Package reconcile is the single writer of assets, asset extras and ownership rows.
//
// Assets are synced either by fetching a token through the metadata gateway or from an NFT
// record a caller already holds. Ownership transfers are reconciled against on-chain state:
// ERC-721 keeps one owner row and invalidates stale listings, ERC-1155 re-reads both sides'
// balances and stores them as the truth.
package reconcile

import (
	"context"
	"math/big"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/models"
	"github.com/nft-syncer/internal/queue"
	"github.com/nft-syncer/internal/types"
)

// lookupTTL bounds how long contract and collection rows are served from memory
const lookupTTL = 5 * time.Minute

// AssetStore persists assets and their extras
type AssetStore interface {
	Get(ctx context.Context, chainID types.ChainID, contractID int64, tokenID string) (*models.Asset, error)
	Create(ctx context.Context, a *models.Asset) (*models.Asset, error)
	Update(ctx context.Context, a *models.Asset) error
	EnsureExtra(ctx context.Context, extra *models.AssetExtra) (bool, error)
}

// ContractStore persists contracts and collections
type ContractStore interface {
	GetContract(ctx context.Context, chainID types.ChainID, address string) (*models.Contract, error)
	UpsertContract(ctx context.Context, c *models.Contract) (*models.Contract, error)
	EnsureCollection(ctx context.Context, contract *models.Contract) (*models.Collection, error)
	UpdateCollectionOwner(ctx context.Context, collectionID int64, owner string) (bool, error)
}

// OwnershipStore persists asset ownership rows
type OwnershipStore interface {
	SetSingleOwner(ctx context.Context, assetID, contractID int64, owner string) error
	DeleteAll(ctx context.Context, assetID int64) error
	Get(ctx context.Context, assetID int64, owner string) (*models.Ownership, error)
	Upsert(ctx context.Context, o *models.Ownership) error
	Delete(ctx context.Context, assetID int64, owner string) error
}

// TraitStore persists the trait search rows of an asset
type TraitStore interface {
	Count(ctx context.Context, assetID int64) (int, error)
	Replace(ctx context.Context, asset *models.Asset, traits []types.Attribute) error
}

// OrderStore touches the order book
type OrderStore interface {
	InvalidateSellOrders(ctx context.Context, assetID int64) (int64, error)
}

// Gateway fetches NFTs from providers or from the chain
type Gateway interface {
	GetNFT(ctx context.Context, chainID types.ChainID, contract, tokenID string) (*types.NFT, error)
	GetNFTOnchain(ctx context.Context, chainID types.ChainID, contract, tokenID string, class types.TrafficClass) (*types.NFT, error)
	GetTotalOwners(ctx context.Context, chainID types.ChainID, contract, tokenID string) (int64, error)
	ProviderFor(chainID types.ChainID) string
}

// ChainReader is the subset of direct chain reads reconciliation needs
type ChainReader interface {
	BalancesOf(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract, tokenID string, holders []string) (map[string]*big.Int, error)
	ContractType(ctx context.Context, chainID types.ChainID, class types.TrafficClass, contract string) (types.ContractType, error)
	ContractOwner(ctx context.Context, chainID types.ChainID, contract string) (string, error)
}

// FailureTracker gates fetches of failing assets and collections
type FailureTracker interface {
	ShouldSkip(ctx context.Context, chainID types.ChainID, contract, tokenID string) bool
	IsCollectionSuspended(ctx context.Context, chainID types.ChainID, contract string) bool
	RecordFailure(ctx context.Context, chainID types.ChainID, contract, tokenID string, cause error, metadataURL string)
}

// TaskSubmitter runs background work without blocking the caller
type TaskSubmitter interface {
	Submit(task queue.Task) bool
}

// Stores groups the repositories the service writes through
type Stores struct {
	Assets     AssetStore
	Contracts  ContractStore
	Ownerships OwnershipStore
	Traits     TraitStore
	Orders     OrderStore
}

// Service reconciles assets and ownership with provider and on-chain data
type Service struct {
	stores    Stores
	gateway   Gateway
	chain     ChainReader
	failures  FailureTracker
	tasks     TaskSubmitter
	blacklist RefreshBlacklist
	lookups   *gocache.Cache
	log       *logging.Logger
}

// NewService wires the reconciliation service. tasks may be nil, in which case trait
// rebuilds run inline.
func NewService(stores Stores, gateway Gateway, chain ChainReader, failures FailureTracker, tasks TaskSubmitter) *Service {
	return &Service{
		stores:    stores,
		gateway:   gateway,
		chain:     chain,
		failures:  failures,
		tasks:     tasks,
		blacklist: DefaultRefreshBlacklist(),
		lookups:   gocache.New(lookupTTL, 2*lookupTTL),
		log:       logging.Component("reconcile"),
	}
}

// WithRefreshBlacklist replaces the static refresh deny-list
func (s *Service) WithRefreshBlacklist(b RefreshBlacklist) *Service {
	s.blacklist = b
	return s
}

// SyncOptions tunes SyncAssetOnChain
type SyncOptions struct {
	// IsSpam overrides the provider's spam flag when set
	IsSpam *bool
	// RPCClass is the endpoint class used for on-chain fallback reads; defaults to public
	RPCClass types.TrafficClass
	// SyncOwnership writes the resolved ERC-721 owner
	SyncOwnership bool
	// FromAddress and ToAddress, when both set, trigger transfer reconciliation
	FromAddress string
	ToAddress   string
}

func (o SyncOptions) hasTransfer() bool {
	return o.FromAddress != "" && o.ToAddress != ""
}

func (o SyncOptions) class() types.TrafficClass {
	if o.RPCClass == "" {
		return types.ClassPublic
	}
	return o.RPCClass
}

// HandleSyncRequest reconciles one queued logical transfer
func (s *Service) HandleSyncRequest(ctx context.Context, req types.SyncRequest) error {
	_, err := s.SyncAssetOnChain(ctx, req.Key(), SyncOptions{
		SyncOwnership: true,
		FromAddress:   req.FromAddress,
		ToAddress:     req.ToAddress,
	})
	return err
}
